// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/Vui-Chee/korasi/internal/logging"
)

// Forwarder bridges local TCP connections to one fixed remote address.
// Every accepted local connection gets exactly one tunnel channel on
// the session; closing one never disturbs the others.
type Forwarder struct {
	sess       *Session
	remoteAddr string
	ln         net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Listen binds the local side of a tunnel. localAddr is a host:port or
// :port; remoteAddr is resolved on the instance side.
func (s *Session) Listen(localAddr, remoteAddr string) (*Forwarder, error) {
	if _, err := s.conn(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", localAddr)
	if err != nil {
		return nil, &TunnelError{Local: localAddr, Remote: remoteAddr, Err: ErrBindFailed}
	}
	f := &Forwarder{
		sess:       s,
		remoteAddr: remoteAddr,
		ln:         ln,
		conns:      make(map[net.Conn]struct{}),
	}
	s.addCloser(f.Close)
	return f, nil
}

// Addr is the bound local address.
func (f *Forwarder) Addr() net.Addr { return f.ln.Addr() }

// Serve accepts local connections until ctx is cancelled or the
// listener is closed, then closes every active tunnel.
func (f *Forwarder) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		f.ln.Close()
	}()
	defer f.Close()

	for {
		c, err := f.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		f.track(c)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.handle(c)
		}()
	}
}

func (f *Forwarder) track(c net.Conn) {
	f.mu.Lock()
	f.conns[c] = struct{}{}
	f.mu.Unlock()
}

func (f *Forwarder) untrack(c net.Conn) {
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
}

// ActiveConns reports how many tunnel channels are currently open.
func (f *Forwarder) ActiveConns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// handle opens one tunnel channel and pumps bytes both ways until
// either side closes.
func (f *Forwarder) handle(local net.Conn) {
	defer f.untrack(local)
	defer local.Close()

	cl, err := f.sess.conn()
	if err != nil {
		logging.Warn("tunnel: session not ready", zap.Error(err))
		return
	}
	remote, err := cl.Dial("tcp", f.remoteAddr)
	if err != nil {
		te := &TunnelError{Local: local.LocalAddr().String(), Remote: f.remoteAddr, Err: ErrChannelRefused}
		logging.Warn("tunnel: channel open failed", zap.Error(te), zap.Error(err))
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		remote.Close()
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		local.Close()
		done <- struct{}{}
	}()
	<-done
	<-done
}

// Close stops accepting and closes all active tunnels. It never blocks
// on a sibling channel.
func (f *Forwarder) Close() error {
	err := f.ln.Close()
	f.mu.Lock()
	for c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()
	return err
}
