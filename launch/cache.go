// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package launch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Cached records a kept instance so a later invocation can tear it
// down. This is the only state the tool persists.
type Cached struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Region    string    `json:"region"`
	Profile   string    `json:"profile"`
	CreatedAt time.Time `json:"created_at"`
}

func cacheFile() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "korasi", "instance.json"), nil
}

// SaveCached writes the kept-instance record.
func SaveCached(c Cached) error {
	p, err := cacheFile()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o600)
}

// LoadCached reads the kept-instance record. A missing file is not an
// error; it returns (nil, nil).
func LoadCached() (*Cached, error) {
	p, err := cacheFile()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c Cached
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("corrupt instance cache %q: %w", p, err)
	}
	return &c, nil
}

// ClearCached removes the record after a successful teardown.
func ClearCached() error {
	p, err := cacheFile()
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
