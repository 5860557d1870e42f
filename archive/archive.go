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

// Package archive packages analysis diagnostics for delivery: per-file
// gzip compression and flat tarballs of the compressed members, plus
// extraction of stat tarballs produced by earlier cycles.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// GzipFiles writes a .gz copy next to each input file and returns the
// compressed paths. The originals are kept.
func GzipFiles(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		gz, err := gzipFile(p)
		if err != nil {
			return nil, fmt.Errorf("archive: compressing %s: %v", p, err)
		}
		out = append(out, gz)
	}
	return out, nil
}

func gzipFile(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()
	gzPath := path + ".gz"
	out, err := os.Create(gzPath)
	if err != nil {
		return "", err
	}
	w := gzip.NewWriter(out)
	if _, err := io.Copy(w, in); err != nil {
		out.Close()
		os.Remove(gzPath)
		return "", err
	}
	if err := w.Close(); err != nil {
		out.Close()
		os.Remove(gzPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(gzPath)
		return "", err
	}
	return gzPath, nil
}

// CreateTar writes members into a tarball at tarPath. Members are
// stored under their basenames, matching the flat layout the
// downstream stat consumers expect.
func CreateTar(tarPath string, members []string) error {
	if err := os.MkdirAll(filepath.Dir(tarPath), os.ModePerm); err != nil {
		return fmt.Errorf("archive: creating directory for %s: %v", tarPath, err)
	}
	f, err := os.Create(tarPath)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %v", tarPath, err)
	}
	tw := tar.NewWriter(f)
	for _, m := range members {
		if err := addMember(tw, m); err != nil {
			f.Close()
			return fmt.Errorf("archive: adding %s to %s: %v", m, tarPath, err)
		}
	}
	if err := tw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("archive: finalizing %s: %v", tarPath, err)
	}
	return f.Close()
}

func addMember(tw *tar.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, in)
	return err
}

// Extract unpacks the tarball at tarPath into the directory containing
// it. Entries that would land outside that directory are rejected.
func Extract(tarPath string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %v", tarPath, err)
	}
	defer f.Close()
	dir := filepath.Dir(tarPath)
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: reading %s: %v", tarPath, err)
		}
		dst := filepath.Join(dir, hdr.Name)
		if !strings.HasPrefix(dst, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive: entry %s in %s escapes the extraction directory", hdr.Name, tarPath)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, os.ModePerm); err != nil {
				return fmt.Errorf("archive: extracting %s: %v", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, dst, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("archive: extracting %s: %v", hdr.Name, err)
			}
		default:
			// Links and devices have no business in a stat tarball.
			return fmt.Errorf("archive: entry %s in %s has unsupported type %c", hdr.Name, tarPath, hdr.Typeflag)
		}
	}
}

func extractFile(r io.Reader, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
