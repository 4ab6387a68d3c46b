// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workspace

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// ItemKind distinguishes plan entries.
type ItemKind int

const (
	// File is a regular file to copy.
	File ItemKind = iota
	// Dir is a directory to create.
	Dir
)

// TransferItem is one local-to-remote copy.
type TransferItem struct {
	Local  string
	Remote string
	Kind   ItemKind
	Mode   fs.FileMode
}

// Plan is an ordered transfer: every directory precedes its
// descendants. Building a plan touches no remote state.
type Plan struct {
	Items []TransferItem
}

// IgnoreFilter reports whether a source-relative path should be
// excluded from a plan. The pattern engine behind it is pluggable.
type IgnoreFilter interface {
	Matches(rel string) bool
}

// Planner walks a source and produces a Plan.
type Planner struct {
	Mapper *Mapper
	// Filter may be nil, in which case nothing is excluded.
	Filter IgnoreFilter
}

// Plan maps the source and walks it. A single file yields a one-item
// plan. Any unreadable entry fails the whole plan; a failed plan leaves
// no remote state because planning performs no remote I/O.
func (p *Planner) Plan(src string) (*Plan, error) {
	remoteRoot, err := p.Mapper.Map(src)
	if err != nil {
		return nil, err
	}
	localRoot := p.Mapper.LocalRoot(src)

	plan := &Plan{}
	// The mapping base (destination or remote home) already exists and
	// is never created; everything the mapped path implies below it is.
	for _, d := range parentDirs(path.Clean(p.Mapper.Base()), path.Dir(remoteRoot)) {
		plan.Items = append(plan.Items, TransferItem{Remote: d, Kind: Dir, Mode: 0o755})
	}
	walk := func(lp string, d fs.DirEntry, err error) error {
		if err != nil {
			return &SyncError{Path: lp, Err: ErrUnreadableSource}
		}
		rel, err := filepath.Rel(localRoot, lp)
		if err != nil {
			return &SyncError{Path: lp, Err: err}
		}
		if rel != "." && p.Filter != nil && p.Filter.Matches(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return &SyncError{Path: lp, Err: ErrUnreadableSource}
		}
		remote := remoteRoot
		if rel != "." {
			remote = path.Join(remoteRoot, filepath.ToSlash(rel))
		}
		kind := File
		if d.IsDir() {
			kind = Dir
		}
		plan.Items = append(plan.Items, TransferItem{
			Local:  lp,
			Remote: remote,
			Kind:   kind,
			Mode:   info.Mode().Perm(),
		})
		return nil
	}
	// WalkDir is lexical depth-first, so a directory is visited before
	// anything beneath it.
	if err := filepath.WalkDir(localRoot, walk); err != nil {
		return nil, err
	}
	return plan, nil
}

// parentDirs lists the directories strictly under base up to and
// including dir, top-down. Both arguments are clean slash paths.
func parentDirs(base, dir string) []string {
	prefix := base + "/"
	if base == "/" {
		prefix = "/"
	}
	var dirs []string
	for d := dir; d != base && strings.HasPrefix(d, prefix); d = path.Dir(d) {
		dirs = append(dirs, d)
	}
	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}
	return dirs
}
