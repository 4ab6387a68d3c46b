// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package launch drives an ephemeral compute instance from request to
// guaranteed teardown.
package launch

import "context"

// InstanceState is a phase of the instance lifecycle.
type InstanceState int

const (
	// Provisioning means the launch request has been issued.
	Provisioning InstanceState = iota
	// Booting means the instance exists but is not yet reachable.
	Booting
	// Ready means a session may connect.
	Ready
	// Terminating means teardown has been requested.
	Terminating
	// Terminated is the final state.
	Terminated
)

func (s InstanceState) String() string {
	switch s {
	case Provisioning:
		return "provisioning"
	case Booting:
		return "booting"
	case Ready:
		return "ready"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Instance is the one remote resource owned by an invocation.
type Instance struct {
	ID            string
	PublicAddress string
	State         InstanceState
}

// Spec describes the instance to launch.
type Spec struct {
	ImageID          string
	InstanceType     string
	KeyName          string
	SecurityGroupIDs []string
	// UserData is a base64-encoded boot script, optional.
	UserData string
}

// Status is a point-in-time view of a launched instance.
type Status struct {
	State   InstanceState
	Address string
}

// API is the provisioning collaborator. Implementations wrap one cloud
// provider; the controller never talks to a provider directly.
type API interface {
	Launch(ctx context.Context, spec Spec) (string, error)
	Describe(ctx context.Context, id string) (Status, error)
	Terminate(ctx context.Context, id string) error
	Tag(ctx context.Context, id string, labels map[string]string) error
}
