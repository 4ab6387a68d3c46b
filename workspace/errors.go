// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workspace

import (
	"errors"
	"fmt"
)

var (
	// ErrOutsideHomeWithoutRoot means the source lies outside both the
	// workspace and the local home, and no destination was given to
	// anchor it.
	ErrOutsideHomeWithoutRoot = errors.New("source outside workspace and home")
	// ErrDstNotExist means the explicit destination is absent on the
	// remote side. The mapper never creates it.
	ErrDstNotExist = errors.New("destination does not exist remotely")
	// ErrUnreadableSource means an entry under the source could not be
	// read while planning.
	ErrUnreadableSource = errors.New("unreadable source")
	// ErrTransferFailed means an item of a plan could not be written
	// remotely.
	ErrTransferFailed = errors.New("transfer failed")
)

// PathError reports a source path that cannot be mapped onto the remote
// filesystem.
type PathError struct {
	Src string
	Err error
}

func (e *PathError) Error() string {
	switch {
	case errors.Is(e.Err, ErrDstNotExist):
		return fmt.Sprintf("map %q: %v -- create it first", e.Src, e.Err)
	case errors.Is(e.Err, ErrOutsideHomeWithoutRoot):
		return fmt.Sprintf("map %q: %v -- pass an explicit destination", e.Src, e.Err)
	}
	return fmt.Sprintf("map %q: %v", e.Src, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// SyncError reports a failure while planning or executing a transfer.
type SyncError struct {
	Path string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %q: %v", e.Path, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
