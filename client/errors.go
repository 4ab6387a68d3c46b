// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable means the instance address did not answer.
	ErrUnreachable = errors.New("instance unreachable")
	// ErrHandshakeFailed means the transport handshake broke down.
	ErrHandshakeFailed = errors.New("transport handshake failed")
	// ErrAuthRejected means the instance refused our key.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrBindFailed means the local tunnel port could not be bound.
	ErrBindFailed = errors.New("local bind failed")
	// ErrChannelRefused means the remote side refused a tunnel channel.
	ErrChannelRefused = errors.New("tunnel channel refused")
	// ErrNotReady means a channel open was attempted on a session that
	// is not in the Ready state.
	ErrNotReady = errors.New("session not ready")
)

// ConnectError reports a failure to establish or keep the session.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	switch {
	case errors.Is(e.Err, ErrAuthRejected):
		return fmt.Sprintf("connect %s: %v -- check the private key matches the instance key pair", e.Addr, e.Err)
	case errors.Is(e.Err, ErrUnreachable):
		return fmt.Sprintf("connect %s: %v -- the instance may still be booting", e.Addr, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CommandError reports how a remote command ended. ExitCode carries the
// exact remote status; RemoteKilled is set when the process died to a
// signal or vanished without reporting one.
type CommandError struct {
	ExitCode     int
	RemoteKilled bool
	Signal       string
}

func (e *CommandError) Error() string {
	if e.RemoteKilled {
		if e.Signal != "" {
			return fmt.Sprintf("remote process killed by SIG%s", e.Signal)
		}
		return "remote process killed"
	}
	return fmt.Sprintf("remote command exited with code %d", e.ExitCode)
}

// TunnelError reports a forwarding failure.
type TunnelError struct {
	Local  string
	Remote string
	Err    error
}

func (e *TunnelError) Error() string {
	if errors.Is(e.Err, ErrBindFailed) {
		return fmt.Sprintf("tunnel %s -> %s: %v -- is the port already in use?", e.Local, e.Remote, e.Err)
	}
	return fmt.Sprintf("tunnel %s -> %s: %v", e.Local, e.Remote, e.Err)
}

func (e *TunnelError) Unwrap() error { return e.Err }
