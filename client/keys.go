// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	config "github.com/kevinburke/ssh_config"
	ssh "golang.org/x/crypto/ssh"
)

const (
	// DefaultPort is the standard SSH port on launched instances.
	DefaultPort = "22"
	// DefaultUser is the login user baked into the stock images.
	DefaultUser = "ubuntu"
)

// DefaultKeyFile is where the launcher saves the generated key pair.
var DefaultKeyFile = filepath.Join(os.Getenv("HOME"), ".ssh", "korasi.pem")

// GetKeyFile picks a keyfile if none has been set.
// It will use ssh config, else use a default.
func GetKeyFile(host, kf string) string {
	if len(kf) == 0 {
		kf = config.Get(host, "IdentityFile")
		if len(kf) == 0 {
			kf = DefaultKeyFile
		}
	}
	// The kf will always be non-zero at this point.
	// The config package doesn't handle ~.
	if strings.HasPrefix(kf, "~") {
		kf = filepath.Join(os.Getenv("HOME"), kf[1:])
	}
	return kf
}

// GetUser reads the login user from the ssh config file, if set,
// else returns the default instance user.
func GetUser(host, user string) string {
	if len(user) != 0 {
		return user
	}
	if u := config.Get(host, "User"); len(u) != 0 {
		return u
	}
	return DefaultUser
}

// GetPort gets a port. config.Get returns "22" when there is no entry
// in .ssh/config, which happens to be our default too, so only an
// explicit non-empty value wins.
func GetPort(host, port string) string {
	if len(port) != 0 {
		return port
	}
	if cp := config.Get(host, "Port"); len(cp) != 0 {
		return cp
	}
	return DefaultPort
}

// userKeyAuth loads the private key and returns a publickey auth
// method for it.
func userKeyAuth(keyFile string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key %q: %w", keyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key %q: %w", keyFile, err)
	}
	return ssh.PublicKeys(signer), nil
}

// hostKeyCallback returns a fixed-key callback when a host key file is
// given, else trusts on first use. Instances are ephemeral, so there
// is usually no prior key to pin.
func hostKeyCallback(hostKeyFile string) (ssh.HostKeyCallback, error) {
	if hostKeyFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	hk, err := os.ReadFile(hostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read host key %q: %w", hostKeyFile, err)
	}
	pk, _, _, _, err := ssh.ParseAuthorizedKey(hk)
	if err != nil {
		if pk2, err2 := ssh.ParsePublicKey(hk); err2 == nil {
			return ssh.FixedHostKey(pk2), nil
		}
		return nil, fmt.Errorf("host key %q: %w", hostKeyFile, err)
	}
	return ssh.FixedHostKey(pk), nil
}
