// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workspace

import "path"

// GlobFilter is a small IgnoreFilter over shell glob patterns. A
// pattern matches against the full source-relative path and against
// each path element, so "*.o" excludes objects anywhere in the tree.
// The version-control directory ".git" is always excluded.
type GlobFilter struct {
	patterns []string
}

// NewGlobFilter builds a filter from zero or more glob patterns.
func NewGlobFilter(patterns ...string) *GlobFilter {
	return &GlobFilter{patterns: append([]string{".git"}, patterns...)}
}

// Matches implements IgnoreFilter.
func (f *GlobFilter) Matches(rel string) bool {
	for _, pat := range f.patterns {
		if ok, err := path.Match(pat, rel); err == nil && ok {
			return true
		}
		for r := rel; r != "." && r != "/"; r = path.Dir(r) {
			if ok, err := path.Match(pat, path.Base(r)); err == nil && ok {
				return true
			}
		}
	}
	return false
}
