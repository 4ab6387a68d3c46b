// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workspace

import (
	"errors"
	"testing"
)

func newTestMapper(dest string, statDir func(string) (bool, error)) *Mapper {
	return &Mapper{
		Workspace:  "/home/user/proj",
		LocalHome:  "/home/user",
		RemoteHome: "/home/user",
		Dest:       dest,
		StatDir:    statDir,
	}
}

func TestMap(t *testing.T) {
	dirExists := func(string) (bool, error) { return true, nil }

	tests := []struct {
		name string
		dest string
		src  string
		want string
	}{
		{name: "workspace file, no destination", src: "output.txt", want: "/home/user/root/output.txt"},
		{name: "home file mirrors home-relative path", src: "/home/user/foobar.txt", want: "/home/user/foobar.txt"},
		{name: "nested file under explicit destination", dest: "dst", src: "src/abc/test.txt", want: "dst/src/abc/test.txt"},
		{name: "parent refs stripped and re-rooted", src: "../test.txt", want: "/home/user/root/test.txt"},
		{name: "deep parent refs", src: "../../a/b.txt", want: "/home/user/root/a/b.txt"},
		{name: "absolute workspace path", src: "/home/user/proj/src/x.go", want: "/home/user/root/src/x.go"},
		{name: "absolute workspace path with destination", dest: "/tmp/dst", src: "/home/user/proj/src/x.go", want: "/tmp/dst/src/x.go"},
		{name: "home dir source with destination", dest: "dst", src: "/home/user/notes", want: "dst/notes"},
		{name: "outside home with destination keeps base name", dest: "dst", src: "/var/log/syslog", want: "dst/syslog"},
		{name: "workspace itself", src: ".", want: "/home/user/root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMapper(tt.dest, dirExists)
			got, err := m.Map(tt.src)
			if err != nil {
				t.Fatalf("Map(%q): %v", tt.src, err)
			}
			if got != tt.want {
				t.Errorf("Map(%q) = %q, want %q", tt.src, got, tt.want)
			}
		})
	}
}

func TestMapOutsideHomeWithoutRoot(t *testing.T) {
	m := newTestMapper("", nil)
	_, err := m.Map("/var/log/syslog")
	if !errors.Is(err, ErrOutsideHomeWithoutRoot) {
		t.Fatalf("Map: got %v, want ErrOutsideHomeWithoutRoot", err)
	}
	var pe *PathError
	if !errors.As(err, &pe) {
		t.Fatalf("Map: error %T is not a *PathError", err)
	}
	if pe.Src != "/var/log/syslog" {
		t.Errorf("PathError.Src = %q, want /var/log/syslog", pe.Src)
	}
}

func TestMapDstNotExist(t *testing.T) {
	m := newTestMapper("dst", func(string) (bool, error) { return false, nil })
	_, err := m.Map("src/abc/test.txt")
	if !errors.Is(err, ErrDstNotExist) {
		t.Fatalf("Map: got %v, want ErrDstNotExist", err)
	}
}

func TestMapDstNotExistOutsideWorkspaceSource(t *testing.T) {
	// An escaping source combined with a missing destination still
	// fails with DstNotExist; the destination is never created for it.
	m := newTestMapper("dst", func(string) (bool, error) { return false, nil })
	_, err := m.Map("../test.txt")
	if !errors.Is(err, ErrDstNotExist) {
		t.Fatalf("Map: got %v, want ErrDstNotExist", err)
	}
}

func TestMapStatDirError(t *testing.T) {
	boom := errors.New("sftp: connection lost")
	m := newTestMapper("dst", func(string) (bool, error) { return false, boom })
	_, err := m.Map("x.txt")
	if !errors.Is(err, boom) {
		t.Fatalf("Map: got %v, want wrapped stat error", err)
	}
}

func TestMapDescendantProperty(t *testing.T) {
	// Everything under the workspace maps under the default root,
	// except home sources without a destination, which mirror.
	m := newTestMapper("", nil)
	for _, src := range []string{"a", "a/b/c.txt", "./x", "../esc.txt"} {
		got, err := m.Map(src)
		if err != nil {
			t.Fatalf("Map(%q): %v", src, err)
		}
		const root = "/home/user/root"
		if got != root && !hasPrefixSlash(got, root) {
			t.Errorf("Map(%q) = %q, not under %q", src, got, root)
		}
	}
}

func hasPrefixSlash(p, root string) bool {
	return len(p) > len(root) && p[:len(root)] == root && p[len(root)] == '/'
}
