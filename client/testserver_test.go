// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	gl "github.com/gliderlabs/ssh"
	"github.com/pkg/sftp"
	cssh "golang.org/x/crypto/ssh"

	"github.com/Vui-Chee/korasi/internal/retry"
)

// testKey generates a throwaway ed25519 pair, saves the private half as
// PEM, and returns its path with the matching public key.
func testKey(t *testing.T) (string, gl.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := cssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(t.TempDir(), "test.pem")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	sshPub, err := cssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return keyPath, sshPub
}

// execHandler interprets the tiny command language the tests speak.
func execHandler(s gl.Session) {
	args := s.Command()
	if len(args) == 0 {
		return
	}
	switch args[0] {
	case "exit":
		code, _ := strconv.Atoi(args[1])
		s.Exit(code)
	case "out":
		fmt.Fprint(s, args[1])
	case "err":
		fmt.Fprint(s.Stderr(), args[1])
	case "both":
		fmt.Fprint(s, "stdout-part")
		fmt.Fprint(s.Stderr(), "stderr-part")
		s.Exit(7)
	case "cat":
		io.Copy(s, s)
	}
}

func sftpHandler(s gl.Session) {
	server, err := sftp.NewServer(s)
	if err != nil {
		return
	}
	defer server.Close()
	server.Serve()
}

// startServer runs an in-process SSH server accepting the given key.
func startServer(t *testing.T, allowed gl.PublicKey) string {
	t.Helper()
	srv := &gl.Server{
		Handler: execHandler,
		PublicKeyHandler: func(ctx gl.Context, key gl.PublicKey) bool {
			return gl.KeysEqual(key, allowed)
		},
		LocalPortForwardingCallback: func(ctx gl.Context, dhost string, dport uint32) bool {
			return true
		},
		ChannelHandlers: map[string]gl.ChannelHandler{
			"session":      gl.DefaultSessionHandler,
			"direct-tcpip": gl.DirectTCPIPHandler,
		},
		SubsystemHandlers: map[string]gl.SubsystemHandler{
			"sftp": sftpHandler,
		},
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return ln.Addr().String()
}

// dialTest dials the test server with a fast retry budget.
func dialTest(t *testing.T) *Session {
	t.Helper()
	keyPath, pub := testKey(t)
	addr := startServer(t, pub)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	s, err := Dial(context.Background(), Options{
		Host:           host,
		Port:           port,
		User:           "test",
		PrivateKeyFile: keyPath,
		Backoff: &retry.Backoff{
			InitialDelay: 10 * time.Millisecond,
			MaxAttempts:  3,
		},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
