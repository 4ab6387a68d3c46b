// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

// startEcho runs a local TCP echo server standing in for the remote
// endpoint of a tunnel.
func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					fmt.Fprintf(c, "%s\n", sc.Text())
				}
			}(c)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func roundTrip(t *testing.T, c net.Conn, r *bufio.Reader, msg string) {
	t.Helper()
	if _, err := fmt.Fprintf(c, "%s\n", msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != msg+"\n" {
		t.Fatalf("echo = %q, want %q", line, msg+"\n")
	}
}

func TestTunnelIndependentChannels(t *testing.T) {
	s := dialTest(t)
	echo := startEcho(t)

	f, err := s.Listen("127.0.0.1:0", echo)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- f.Serve(ctx) }()

	// N local connections must yield N independent channels.
	const n = 5
	conns := make([]net.Conn, n)
	readers := make([]*bufio.Reader, n)
	for i := range conns {
		c, err := net.Dial("tcp", f.Addr().String())
		if err != nil {
			t.Fatalf("dial tunnel: %v", err)
		}
		defer c.Close()
		conns[i] = c
		readers[i] = bufio.NewReader(c)
		roundTrip(t, c, readers[i], fmt.Sprintf("hello-%d", i))
	}

	waitFor(t, func() bool { return f.ActiveConns() == n })

	// Closing one channel leaves the others usable.
	conns[0].Close()
	waitFor(t, func() bool { return f.ActiveConns() == n-1 })
	for i := 1; i < n; i++ {
		roundTrip(t, conns[i], readers[i], fmt.Sprintf("again-%d", i))
	}

	// Cancellation closes the listener and every active channel.
	cancel()
	select {
	case err := <-served:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	waitFor(t, func() bool { return f.ActiveConns() == 0 })
}

func TestTunnelBindFailed(t *testing.T) {
	s := dialTest(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = s.Listen(ln.Addr().String(), "127.0.0.1:9")
	if !errors.Is(err, ErrBindFailed) {
		t.Fatalf("Listen on taken port: got %v, want ErrBindFailed", err)
	}
	var te *TunnelError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not a *TunnelError", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
