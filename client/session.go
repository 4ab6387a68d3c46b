// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client owns the one secure connection to a launched instance
// and multiplexes command execution, an interactive shell, file
// transfer and TCP tunnels over it.
package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	ssh "golang.org/x/crypto/ssh"

	"github.com/Vui-Chee/korasi/internal/logging"
	"github.com/Vui-Chee/korasi/internal/retry"
)

// State is the lifecycle of a Session.
type State int

const (
	// Connecting means the initial dial is in progress.
	Connecting State = iota
	// Ready means channels may be opened.
	Ready
	// Degraded means the connection dropped and a bounded reconnect is
	// in progress.
	Degraded
	// Closed is final.
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Options configure a Session dial.
type Options struct {
	// Host is the instance's public address.
	Host string
	// Port, User and PrivateKeyFile fall back to ssh_config entries for
	// Host, then to the tool's defaults.
	Port           string
	User           string
	PrivateKeyFile string
	HostKeyFile    string
	// DialTimeout bounds one TCP connect attempt.
	DialTimeout time.Duration
	// Backoff paces dial retries. Nil uses retry.Default.
	Backoff *retry.Backoff
}

// Session is the exclusive owner of one authenticated connection.
// All channel kinds (exec, shell, sftp, tunnel) multiplex over it; the
// transport serializes writes and demultiplexes reads per channel, so
// closing one channel never affects its siblings.
type Session struct {
	opts    Options
	addr    string
	config  *ssh.ClientConfig
	backoff *retry.Backoff

	mu      sync.Mutex
	state   State
	client  *ssh.Client
	sftpc   *sftp.Client
	closers []func() error
}

// Dial connects and authenticates to the instance, retrying transient
// failures with backoff. An instance is often reachable a little before
// sshd is, so refused connections count as transient.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	opts.Port = GetPort(opts.Host, opts.Port)
	opts.User = GetUser(opts.Host, opts.User)
	opts.PrivateKeyFile = GetKeyFile(opts.Host, opts.PrivateKeyFile)
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}

	auth, err := userKeyAuth(opts.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(opts.HostKeyFile)
	if err != nil {
		return nil, err
	}

	s := &Session{
		opts: opts,
		addr: net.JoinHostPort(opts.Host, opts.Port),
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            []ssh.AuthMethod{auth},
			HostKeyCallback: hostKey,
			Timeout:         opts.DialTimeout,
		},
		backoff: opts.Backoff,
		state:   Connecting,
	}
	if s.backoff == nil {
		s.backoff = retry.Default()
	}

	if err := s.dial(ctx); err != nil {
		s.setState(Closed)
		return nil, err
	}
	return s, nil
}

// dial establishes a fresh connection and installs it.
func (s *Session) dial(ctx context.Context) error {
	var client *ssh.Client
	err := s.backoff.Do(ctx, func(attempt int) error {
		logging.Debug("dialing instance", zap.String("addr", s.addr), zap.Int("attempt", attempt))
		cl, err := ssh.Dial("tcp", s.addr, s.config)
		if err != nil {
			return classifyDial(err)
		}
		client = cl
		return nil
	})
	if err != nil {
		return &ConnectError{Addr: s.addr, Err: err}
	}

	s.mu.Lock()
	old := s.sftpc
	s.client = client
	s.sftpc = nil
	s.state = Ready
	s.mu.Unlock()
	if old != nil {
		// The transfer channel died with the previous connection.
		old.Close()
	}

	go s.watch(client)
	return nil
}

// watch waits for the underlying connection to die and runs one bounded
// reconnect pass. In-flight exec channels are never replayed; only the
// connection itself is idempotent to re-establish.
func (s *Session) watch(client *ssh.Client) {
	err := client.Wait()
	s.mu.Lock()
	if s.state == Closed || s.client != client {
		s.mu.Unlock()
		return
	}
	s.state = Degraded
	s.mu.Unlock()
	logging.Warn("connection lost, reconnecting", zap.String("addr", s.addr), zap.Error(err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.dial(ctx); err != nil {
		logging.Error("reconnect failed", zap.String("addr", s.addr), zap.Error(err))
		s.setState(Closed)
	}
}

// classifyDial sorts a dial error into the connect taxonomy. Auth
// rejections are permanent; everything else may be the instance still
// warming up.
func classifyDial(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"):
		return retry.Permanent(ErrAuthRejected)
	case strings.Contains(msg, "handshake failed"):
		return ErrHandshakeFailed
	}
	var ne net.Error
	if errors.As(err, &ne) || strings.Contains(msg, "connection refused") {
		return ErrUnreachable
	}
	return err
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// conn returns the live connection, or ErrNotReady when channels may
// not be opened.
func (s *Session) conn() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready || s.client == nil {
		return nil, &ConnectError{Addr: s.addr, Err: ErrNotReady}
	}
	return s.client, nil
}

// addCloser registers cleanup run by Close, newest first.
func (s *Session) addCloser(f func() error) {
	s.mu.Lock()
	s.closers = append(s.closers, f)
	s.mu.Unlock()
}

// Close closes every open channel before releasing the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	closers := s.closers
	s.closers = nil
	client := s.client
	s.client = nil
	sftpc := s.sftpc
	s.sftpc = nil
	s.mu.Unlock()

	var err error
	if sftpc != nil {
		if e := sftpc.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if e := closers[i](); e != nil {
			err = multierror.Append(err, e)
		}
	}
	if client != nil {
		if e := client.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}
	return err
}
