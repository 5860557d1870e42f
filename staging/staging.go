/*
Copyright © 2025 the daflow authors.
This file is part of daflow.

daflow is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

daflow is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with daflow.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package staging moves task inputs and outputs around on the
// filesystem from declarative manifests. A manifest lists directories
// to create, files to copy and symlinks to make; tasks build manifests
// programmatically or load them from YAML.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// A Manifest describes a set of staging actions. Actions run in the
// order mkdir, copy, link.
type Manifest struct {
	Mkdir []string   `yaml:"mkdir,omitempty"`
	Copy  [][]string `yaml:"copy,omitempty"` // [source, destination] pairs
	Link  [][]string `yaml:"link,omitempty"` // [target, linkname] pairs
}

// Load reads a YAML manifest from path.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("staging: reading manifest %s: %v", path, err)
	}
	m := new(Manifest)
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("staging: parsing manifest %s: %v", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("staging: manifest %s: %v", path, err)
	}
	return m, nil
}

func (m *Manifest) validate() error {
	for _, p := range m.Copy {
		if len(p) != 2 {
			return fmt.Errorf("copy entry %v must be a [source, destination] pair", p)
		}
	}
	for _, p := range m.Link {
		if len(p) != 2 {
			return fmt.Errorf("link entry %v must be a [target, linkname] pair", p)
		}
	}
	return nil
}

// CopyPair appends a copy action.
func (m *Manifest) CopyPair(src, dst string) { m.Copy = append(m.Copy, []string{src, dst}) }

// LinkPair appends a symlink action.
func (m *Manifest) LinkPair(target, linkname string) {
	m.Link = append(m.Link, []string{target, linkname})
}

// Merge appends all of other's actions to m.
func (m *Manifest) Merge(other *Manifest) {
	m.Mkdir = append(m.Mkdir, other.Mkdir...)
	m.Copy = append(m.Copy, other.Copy...)
	m.Link = append(m.Link, other.Link...)
}

// A Syncer executes manifests. Copies onto a shared filesystem can fail
// transiently, so they are retried with exponential backoff; all other
// actions run once.
type Syncer struct {
	Log *zap.SugaredLogger

	// BackOff controls the copy retry policy.
	// backoff.NewExponentialBackOff() when nil.
	BackOff backoff.BackOff
}

func (s *Syncer) log() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log
}

func (s *Syncer) backOff() backoff.BackOff {
	if s.BackOff == nil {
		return backoff.NewExponentialBackOff()
	}
	return s.BackOff
}

// Sync executes m: directories, then copies, then links. The first
// failure aborts; completed actions are not undone.
func (s *Syncer) Sync(m *Manifest) error {
	for _, dir := range m.Mkdir {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("staging: creating directory %s: %v", dir, err)
		}
		s.log().Debugw("created directory", "dir", dir)
	}
	for _, pair := range m.Copy {
		if len(pair) != 2 {
			return fmt.Errorf("staging: copy entry %v must be a [source, destination] pair", pair)
		}
		if err := s.copyFile(pair[0], pair[1]); err != nil {
			return err
		}
	}
	for _, pair := range m.Link {
		if len(pair) != 2 {
			return fmt.Errorf("staging: link entry %v must be a [target, linkname] pair", pair)
		}
		if err := makeLink(pair[0], pair[1]); err != nil {
			return err
		}
		s.log().Debugw("linked", "target", pair[0], "linkname", pair[1])
	}
	return nil
}

// copyFile copies src to dst, creating dst's parent directories and
// retrying transient failures. A missing source is permanent and fails
// immediately.
func (s *Syncer) copyFile(src, dst string) error {
	err := backoff.RetryNotify(
		func() error {
			if _, err := os.Stat(src); os.IsNotExist(err) {
				return backoff.Permanent(err)
			}
			return copyOnce(src, dst)
		},
		s.backOff(),
		func(err error, d time.Duration) {
			s.log().Warnw("copy failed, retrying", "src", src, "dst", dst,
				"wait", d, "error", err)
		},
	)
	if err != nil {
		return fmt.Errorf("staging: copying %s to %s: %v", src, dst, err)
	}
	s.log().Debugw("copied", "src", src, "dst", dst)
	return nil
}

func copyOnce(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// makeLink symlinks linkname to target, replacing an existing link or
// file at linkname.
func makeLink(target, linkname string) error {
	if err := os.MkdirAll(filepath.Dir(linkname), os.ModePerm); err != nil {
		return fmt.Errorf("staging: creating directory for link %s: %v", linkname, err)
	}
	if _, err := os.Lstat(linkname); err == nil {
		if err := os.Remove(linkname); err != nil {
			return fmt.Errorf("staging: replacing link %s: %v", linkname, err)
		}
	}
	if err := os.Symlink(target, linkname); err != nil {
		return fmt.Errorf("staging: linking %s to %s: %v", linkname, target, err)
	}
	return nil
}
