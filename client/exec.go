// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"errors"
	"io"
	"sync"

	ssh "golang.org/x/crypto/ssh"
)

// Cmd runs one remote command over one exec channel.
// It implements as much of exec.Cmd as makes sense.
type Cmd struct {
	sess *Session
	// Command is the remote command line.
	Command string
	// Stdin may be nil. Bytes are forwarded as they arrive without
	// blocking the output pumps.
	Stdin io.Reader
	// Stdout and Stderr receive the remote streams. Each stream is
	// internally ordered; no order is promised between the two.
	Stdout io.Writer
	Stderr io.Writer
}

// Command prepares a remote command on the session.
func (s *Session) Command(cmdline string) *Cmd {
	return &Cmd{sess: s, Command: cmdline}
}

// Run executes the command and waits for the remote exit status.
// A non-zero exit becomes *CommandError with the exact code; a process
// killed remotely becomes *CommandError with RemoteKilled. When ctx is
// cancelled a best-effort TERM is sent to the remote process before the
// channel is torn down. Nothing is ever retried: the remote side may
// already have had effects.
func (c *Cmd) Run(ctx context.Context) error {
	cl, err := c.sess.conn()
	if err != nil {
		return err
	}
	sess, err := cl.NewSession()
	if err != nil {
		return &ConnectError{Addr: c.sess.addr, Err: err}
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return err
	}
	var stdin io.WriteCloser
	if c.Stdin != nil {
		if stdin, err = sess.StdinPipe(); err != nil {
			return err
		}
	}

	if err := sess.Start(c.Command); err != nil {
		return &ConnectError{Addr: c.sess.addr, Err: err}
	}

	// One pump per channel direction. The stdin forwarder is not
	// waited for: it may be blocked on a terminal read forever.
	if stdin != nil {
		go func() {
			io.Copy(stdin, c.Stdin)
			stdin.Close()
		}()
	}
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		if c.Stdout != nil {
			io.Copy(c.Stdout, stdout)
		} else {
			io.Copy(io.Discard, stdout)
		}
	}()
	go func() {
		defer pumps.Done()
		if c.Stderr != nil {
			io.Copy(c.Stderr, stderr)
		} else {
			io.Copy(io.Discard, stderr)
		}
	}()

	interrupted := make(chan struct{})
	defer close(interrupted)
	go func() {
		select {
		case <-ctx.Done():
			// Best effort: the remote may ignore it or be gone already.
			sess.Signal(ssh.SIGTERM)
			sess.Close()
		case <-interrupted:
		}
	}()

	werr := sess.Wait()
	pumps.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return mapWaitError(werr)
}

// mapWaitError folds the transport's wait error into the command
// taxonomy.
func mapWaitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *ssh.ExitError
	if errors.As(err, &ee) {
		if sig := ee.Signal(); sig != "" {
			return &CommandError{RemoteKilled: true, Signal: sig}
		}
		return &CommandError{ExitCode: ee.ExitStatus()}
	}
	var em *ssh.ExitMissingError
	if errors.As(err, &em) {
		return &CommandError{RemoteKilled: true}
	}
	return err
}
