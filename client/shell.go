// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"io"
	"os"

	ssh "golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Shell opens an interactive pseudo-terminal channel on the session and
// wires it to the local terminal, raw, until the remote shell exits or
// ctx is cancelled.
func (s *Session) Shell(ctx context.Context) error {
	cl, err := s.conn()
	if err != nil {
		return err
	}
	sess, err := cl.NewSession()
	if err != nil {
		return &ConnectError{Addr: s.addr, Err: err}
	}
	defer sess.Close()

	fd := int(os.Stdin.Fd())
	col, row := 80, 40
	if w, h, err := term.GetSize(fd); err == nil {
		col, row = w, h
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", row, col, modes); err != nil {
		return &ConnectError{Addr: s.addr, Err: err}
	}

	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer term.Restore(fd, old)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return err
	}

	if err := sess.Shell(); err != nil {
		return &ConnectError{Addr: s.addr, Err: err}
	}

	go func() {
		io.Copy(stdin, os.Stdin)
		stdin.Close()
	}()
	go io.Copy(os.Stdout, stdout)
	go io.Copy(os.Stderr, stderr)

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()
	select {
	case <-ctx.Done():
		sess.Close()
		return ctx.Err()
	case err := <-done:
		return mapWaitError(err)
	}
}
