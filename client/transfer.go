// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/sftp"
	"go.uber.org/zap"

	"github.com/Vui-Chee/korasi/internal/logging"
	"github.com/Vui-Chee/korasi/workspace"
)

// sftpClient lazily opens the one file-transfer channel and caches it
// for the life of the connection. The lock is held across creation so
// concurrent callers end up sharing a single channel; the session
// closes it together with the connection it belongs to.
func (s *Session) sftpClient() (*sftp.Client, error) {
	cl, err := s.conn()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftpc != nil {
		return s.sftpc, nil
	}
	c, err := sftp.NewClient(cl)
	if err != nil {
		return nil, &ConnectError{Addr: s.addr, Err: err}
	}
	s.sftpc = c
	return c, nil
}

// RemoteHome reports the login directory on the instance.
func (s *Session) RemoteHome() (string, error) {
	c, err := s.sftpClient()
	if err != nil {
		return "", err
	}
	return c.Getwd()
}

// StatDir reports whether path exists remotely as a directory. It is
// the mapper's destination-existence collaborator.
func (s *Session) StatDir(path string) (bool, error) {
	c, err := s.sftpClient()
	if err != nil {
		return false, err
	}
	fi, err := c.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.IsDir(), nil
}

// Upload executes a transfer plan over the file-transfer channel.
// Directories are created first (the plan guarantees the order), files
// are truncated and rewritten, so repeating an upload converges to the
// same remote tree.
func (s *Session) Upload(ctx context.Context, plan *workspace.Plan) error {
	c, err := s.sftpClient()
	if err != nil {
		return err
	}
	for _, item := range plan.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.transfer(c, item); err != nil {
			return err
		}
		logging.Debug("uploaded", zap.String("local", item.Local), zap.String("remote", item.Remote))
	}
	return nil
}

func (s *Session) transfer(c *sftp.Client, item workspace.TransferItem) error {
	if item.Kind == workspace.Dir {
		if err := c.Mkdir(item.Remote); err != nil {
			// Re-uploading over an existing tree is fine.
			if fi, serr := c.Stat(item.Remote); serr == nil && fi.IsDir() {
				return nil
			}
			return &workspace.SyncError{Path: item.Remote, Err: fmt.Errorf("%w: %v", workspace.ErrTransferFailed, err)}
		}
		return nil
	}

	local, err := os.Open(item.Local)
	if err != nil {
		return &workspace.SyncError{Path: item.Local, Err: workspace.ErrUnreadableSource}
	}
	defer local.Close()

	remote, err := c.OpenFile(item.Remote, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return &workspace.SyncError{Path: item.Remote, Err: fmt.Errorf("%w: %v", workspace.ErrTransferFailed, err)}
	}
	if _, err := remote.ReadFrom(local); err != nil {
		remote.Close()
		return &workspace.SyncError{Path: item.Remote, Err: fmt.Errorf("%w: %v", workspace.ErrTransferFailed, err)}
	}
	if err := remote.Close(); err != nil {
		return &workspace.SyncError{Path: item.Remote, Err: fmt.Errorf("%w: %v", workspace.ErrTransferFailed, err)}
	}
	if item.Mode != 0 {
		// Mode preservation is best effort; some servers refuse it.
		if err := c.Chmod(item.Remote, item.Mode); err != nil {
			logging.Debug("chmod failed", zap.String("remote", item.Remote), zap.Error(err))
		}
	}
	return nil
}
