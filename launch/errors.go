// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package launch

import (
	"errors"
	"fmt"
)

var (
	// ErrBootTimeout means the instance never became reachable within
	// the boot deadline.
	ErrBootTimeout = errors.New("instance did not become ready in time")
	// ErrQuota means the provider rejected the launch for capacity or
	// account-limit reasons.
	ErrQuota = errors.New("provider quota exceeded")
	// ErrAuth means the provider rejected the caller's credentials.
	ErrAuth = errors.New("provider rejected credentials")
)

// ProvisionError reports a failed provisioning phase.
type ProvisionError struct {
	ID  string // instance id when one was allocated
	Err error
}

func (e *ProvisionError) Error() string {
	switch {
	case errors.Is(e.Err, ErrBootTimeout):
		return fmt.Sprintf("provision %s: %v -- it will still be terminated", e.ID, e.Err)
	case errors.Is(e.Err, ErrQuota):
		return fmt.Sprintf("provision: %v -- try another instance type or region", e.Err)
	case errors.Is(e.Err, ErrAuth):
		return fmt.Sprintf("provision: %v -- check the AWS profile", e.Err)
	}
	if e.ID != "" {
		return fmt.Sprintf("provision %s: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("provision: %v", e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// TeardownError reports a failed termination. It is surfaced distinctly
// so a successful remote command is never masked; the resource may
// remain billable.
type TeardownError struct {
	ID  string
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("terminate %s: %v -- instance may still be running and billable", e.ID, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
