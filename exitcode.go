// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package korasi

import (
	"errors"

	"github.com/Vui-Chee/korasi/client"
	"github.com/Vui-Chee/korasi/launch"
	"github.com/Vui-Chee/korasi/workspace"
)

// Orchestration failures exit in a reserved band so scripts can tell
// them from a remote command's own status, the way ssh reserves 255.
const (
	ExitOK        = 0
	ExitProvision = 250
	ExitConnect   = 251
	ExitSync      = 252
	ExitTunnel    = 253
	ExitInternal  = 254
)

// ExitCode folds an invocation error into the process exit status. A
// remote command's code passes through untouched; a remote kill maps
// into the internal band.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *client.CommandError
	if errors.As(err, &ce) {
		if ce.RemoteKilled {
			return ExitInternal
		}
		return ce.ExitCode
	}
	var pe *launch.ProvisionError
	if errors.As(err, &pe) {
		return ExitProvision
	}
	var conn *client.ConnectError
	if errors.As(err, &conn) {
		return ExitConnect
	}
	var pathErr *workspace.PathError
	var syncErr *workspace.SyncError
	if errors.As(err, &pathErr) || errors.As(err, &syncErr) {
		return ExitSync
	}
	var te *client.TunnelError
	if errors.As(err, &te) {
		return ExitTunnel
	}
	return ExitInternal
}
