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

package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cenkalti/backoff"
)

func testSyncer() *Syncer {
	return &Syncer{BackOff: backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSync(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "bkg.nc"), "background")
	writeFile(t, filepath.Join(dir, "src", "obs.nc"), "observations")

	m := &Manifest{
		Mkdir: []string{filepath.Join(dir, "run", "anl"), filepath.Join(dir, "run", "diags")},
	}
	m.CopyPair(filepath.Join(dir, "src", "bkg.nc"), filepath.Join(dir, "run", "bkg", "bkg.nc"))
	m.CopyPair(filepath.Join(dir, "src", "obs.nc"), filepath.Join(dir, "run", "obs.nc"))
	m.LinkPair(filepath.Join(dir, "src", "bkg.nc"), filepath.Join(dir, "run", "bkg.link.nc"))

	if err := testSyncer().Sync(m); err != nil {
		t.Fatal(err)
	}

	for _, d := range m.Mkdir {
		fi, err := os.Stat(d)
		if err != nil || !fi.IsDir() {
			t.Errorf("directory %s missing", d)
		}
	}
	// Copy creates destination parents on its own.
	b, err := os.ReadFile(filepath.Join(dir, "run", "bkg", "bkg.nc"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "background" {
		t.Errorf("copied content %q", b)
	}
	target, err := os.Readlink(filepath.Join(dir, "run", "bkg.link.nc"))
	if err != nil {
		t.Fatal(err)
	}
	if target != filepath.Join(dir, "src", "bkg.nc") {
		t.Errorf("link points at %s", target)
	}
}

func TestSyncMissingSourceIsPermanent(t *testing.T) {
	dir := t.TempDir()
	m := new(Manifest)
	m.CopyPair(filepath.Join(dir, "absent.nc"), filepath.Join(dir, "dst.nc"))
	if err := testSyncer().Sync(m); err == nil {
		t.Fatal("copy of a missing source should fail")
	}
	if _, err := os.Stat(filepath.Join(dir, "dst.nc")); !os.IsNotExist(err) {
		t.Error("destination should not have been created")
	}
}

func TestSyncReplacesExistingLink(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "old.nc"), "old")
	writeFile(t, filepath.Join(dir, "new.nc"), "new")
	link := filepath.Join(dir, "current.nc")
	if err := os.Symlink(filepath.Join(dir, "old.nc"), link); err != nil {
		t.Fatal(err)
	}

	m := new(Manifest)
	m.LinkPair(filepath.Join(dir, "new.nc"), link)
	if err := testSyncer().Sync(m); err != nil {
		t.Fatal(err)
	}
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatal(err)
	}
	if target != filepath.Join(dir, "new.nc") {
		t.Errorf("link still points at %s", target)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stage.yaml")
	writeFile(t, path, `
mkdir:
  - /run/anl
copy:
  - [/com/bkg.nc, /run/bkg.nc]
link:
  - [/fix/exe, /run/exe]
`)
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Mkdir) != 1 || m.Mkdir[0] != "/run/anl" {
		t.Errorf("mkdir: %v", m.Mkdir)
	}
	if len(m.Copy) != 1 || m.Copy[0][1] != "/run/bkg.nc" {
		t.Errorf("copy: %v", m.Copy)
	}
	if len(m.Link) != 1 || m.Link[0][0] != "/fix/exe" {
		t.Errorf("link: %v", m.Link)
	}
}

func TestLoadRejectsMalformedPairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stage.yaml")
	writeFile(t, path, `
copy:
  - [/com/bkg.nc]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("one-element copy entry should be rejected")
	}
}

func TestMerge(t *testing.T) {
	a := &Manifest{Mkdir: []string{"/a"}}
	a.CopyPair("/s1", "/d1")
	b := &Manifest{Mkdir: []string{"/b"}}
	b.CopyPair("/s2", "/d2")
	b.LinkPair("/t", "/l")
	a.Merge(b)
	if len(a.Mkdir) != 2 || len(a.Copy) != 2 || len(a.Link) != 1 {
		t.Errorf("merged manifest: %+v", a)
	}
}
