// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workspace decides how a local tree maps onto the remote
// filesystem and turns it into an ordered transfer plan.
package workspace

import (
	"path"
	"path/filepath"
	"strings"
)

// RootFolder is the synthetic top-level remote directory used when no
// destination is given and the source does not mirror the home tree.
const RootFolder = "root"

// Mapper is a pure local-path to remote-path function. The only remote
// knowledge it consumes is the optional StatDir callback used to verify
// an explicit destination.
type Mapper struct {
	// Workspace is the absolute local workspace root.
	Workspace string
	// LocalHome and RemoteHome are the home directories on either side.
	LocalHome  string
	RemoteHome string
	// Dest is an optional remote destination directory. It must already
	// exist; the mapper never creates it.
	Dest string
	// StatDir reports whether a remote path exists as a directory.
	// Nil disables the existence check (planning-only use).
	StatDir func(string) (bool, error)
}

// Map returns the remote path for the source argument. Descendants of a
// directory source are joined onto the returned path by the planner.
//
// A relative source is resolved against the workspace root; leading
// parent references are stripped and the remainder re-rooted. An
// absolute source under the home but outside the workspace mirrors its
// home-relative path when no destination is given. An absolute source
// outside both needs an explicit destination.
func (m *Mapper) Map(src string) (string, error) {
	base, err := m.base(src)
	if err != nil {
		return "", err
	}

	if !filepath.IsAbs(src) {
		rel := stripParentRefs(filepath.Clean(src))
		return path.Join(base, rel), nil
	}

	abs := filepath.Clean(src)
	if rel, ok := under(m.Workspace, abs); ok {
		return path.Join(base, rel), nil
	}
	if rel, ok := under(m.LocalHome, abs); ok {
		if m.Dest == "" {
			// Mirror the home-relative path exactly, no root wrapper.
			return path.Join(m.RemoteHome, rel), nil
		}
		return path.Join(base, rel), nil
	}
	if m.Dest == "" {
		return "", &PathError{Src: src, Err: ErrOutsideHomeWithoutRoot}
	}
	return path.Join(base, filepath.Base(abs)), nil
}

// Base is the remote directory assumed to already exist: the explicit
// destination, else the remote home. Directories between it and a
// mapped path have to be created during transfer.
func (m *Mapper) Base() string {
	if m.Dest != "" {
		return m.Dest
	}
	return m.RemoteHome
}

// LocalRoot resolves the source argument to an absolute local path.
func (m *Mapper) LocalRoot(src string) string {
	if filepath.IsAbs(src) {
		return filepath.Clean(src)
	}
	return filepath.Join(m.Workspace, src)
}

func (m *Mapper) base(src string) (string, error) {
	if m.Dest == "" {
		return path.Join(m.RemoteHome, RootFolder), nil
	}
	if m.StatDir != nil {
		ok, err := m.StatDir(m.Dest)
		if err != nil {
			return "", &PathError{Src: src, Err: err}
		}
		if !ok {
			return "", &PathError{Src: src, Err: ErrDstNotExist}
		}
	}
	return m.Dest, nil
}

// under returns the root-relative remainder of p, in slash form, when p
// lies under root.
func under(root, p string) (string, bool) {
	if root == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(root), p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

// stripParentRefs drops leading ".." segments from a cleaned relative
// path so an escaping source is re-rooted under the destination.
func stripParentRefs(rel string) string {
	segs := strings.Split(filepath.ToSlash(rel), "/")
	i := 0
	for i < len(segs) && segs[i] == ".." {
		i++
	}
	return path.Join(segs[i:]...)
}
