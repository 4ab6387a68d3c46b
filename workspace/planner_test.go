// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTree creates a small source tree and returns its root.
func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dirs := []string{"src/abc", "docs", ".git/objects", "build"}
	files := []string{"README.md", "src/main.go", "src/abc/test.txt", "docs/guide.md", "build/out.o", ".git/HEAD"}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(root, f), []byte(f), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func plannerFor(root string) *Planner {
	return &Planner{
		Mapper: &Mapper{
			Workspace:  root,
			LocalHome:  "/nonexistent-home",
			RemoteHome: "/home/ubuntu",
		},
		Filter: NewGlobFilter("*.o"),
	}
}

func TestPlanSingleFile(t *testing.T) {
	root := writeTree(t)
	p := plannerFor(root)
	plan, err := p.Plan("README.md")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	// The root wrapper does not exist remotely, so the plan creates it
	// before the file lands in it.
	if len(plan.Items) != 2 {
		t.Fatalf("Plan: got %d items, want 2", len(plan.Items))
	}
	if it := plan.Items[0]; it.Kind != Dir || it.Remote != "/home/ubuntu/root" {
		t.Errorf("item 0 = %v %q, want Dir /home/ubuntu/root", it.Kind, it.Remote)
	}
	if it := plan.Items[1]; it.Kind != File || it.Remote != "/home/ubuntu/root/README.md" {
		t.Errorf("item 1 = %v %q, want File /home/ubuntu/root/README.md", it.Kind, it.Remote)
	}
}

func TestPlanDirectoryOrdering(t *testing.T) {
	root := writeTree(t)
	p := plannerFor(root)
	plan, err := p.Plan(".")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	// Every directory must precede all of its descendants.
	seen := map[string]bool{}
	for _, it := range plan.Items {
		if it.Kind == Dir {
			seen[it.Remote] = true
		}
		parent := it.Remote[:strings.LastIndex(it.Remote, "/")]
		if parent != "/home/ubuntu" && !seen[parent] {
			t.Errorf("item %q appears before its directory %q", it.Remote, parent)
		}
	}
}

func TestPlanRespectsIgnoreFilter(t *testing.T) {
	root := writeTree(t)
	p := plannerFor(root)
	plan, err := p.Plan(".")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, it := range plan.Items {
		if strings.Contains(it.Remote, ".git") {
			t.Errorf("ignored .git entry leaked into plan: %q", it.Remote)
		}
		if strings.HasSuffix(it.Remote, ".o") {
			t.Errorf("ignored object file leaked into plan: %q", it.Remote)
		}
	}
}

func TestPlanUnreadableSource(t *testing.T) {
	root := writeTree(t)
	p := plannerFor(root)
	_, err := p.Plan("no-such-file")
	if !errors.Is(err, ErrUnreadableSource) {
		t.Fatalf("Plan: got %v, want ErrUnreadableSource", err)
	}
	var se *SyncError
	if !errors.As(err, &se) {
		t.Fatalf("Plan: error %T is not a *SyncError", err)
	}
}

func TestPlanNestedDestination(t *testing.T) {
	root := writeTree(t)
	p := plannerFor(root)
	p.Mapper.Dest = "dst"
	p.Mapper.StatDir = func(string) (bool, error) { return true, nil }
	plan, err := p.Plan("src/abc/test.txt")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	// The intermediate directories are recreated under the destination,
	// parents first; the destination itself is not.
	want := []TransferItem{
		{Remote: "dst/src", Kind: Dir},
		{Remote: "dst/src/abc", Kind: Dir},
		{Remote: "dst/src/abc/test.txt", Kind: File},
	}
	if len(plan.Items) != len(want) {
		t.Fatalf("Plan: got %d items, want %d", len(plan.Items), len(want))
	}
	for i, w := range want {
		if it := plan.Items[i]; it.Remote != w.Remote || it.Kind != w.Kind {
			t.Errorf("item %d = %v %q, want %v %q", i, it.Kind, it.Remote, w.Kind, w.Remote)
		}
	}
}

func TestPlanTreeIntoDestination(t *testing.T) {
	root := writeTree(t)
	p := plannerFor(root)
	p.Mapper.Dest = "dst"
	p.Mapper.StatDir = func(string) (bool, error) { return true, nil }
	plan, err := p.Plan(".")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	// "." maps onto the destination itself, so no parent directories
	// are synthesized above it.
	if it := plan.Items[0]; it.Remote != "dst" || it.Kind != Dir {
		t.Fatalf("item 0 = %v %q, want Dir dst", it.Kind, it.Remote)
	}
	for _, it := range plan.Items {
		if it.Remote == "." || !strings.HasPrefix(it.Remote, "dst") {
			t.Errorf("item %q escapes the destination", it.Remote)
		}
	}
}

func TestGlobFilter(t *testing.T) {
	f := NewGlobFilter("*.tmp", "node_modules")
	tests := []struct {
		rel  string
		want bool
	}{
		{".git", true},
		{".git/HEAD", true},
		{"a/b/scratch.tmp", true},
		{"node_modules/x/y.js", true},
		{"src/main.go", false},
		{"README.md", false},
	}
	for _, tt := range tests {
		if got := f.Matches(tt.rel); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}
