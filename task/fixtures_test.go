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

package task

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"

	"github.com/nwpmodel/daflow"
)

// writeFieldFixture creates a one-variable restart file at path. The
// variable holds data on an x dimension of matching length.
func writeFieldFixture(t *testing.T, path, variable string, data []float64, checksum bool) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		t.Fatal(err)
	}
	h := cdf.NewHeader([]string{"x"}, []int{len(data)})
	h.AddVariable(variable, []string{"x"}, []float32{0})
	if checksum {
		h.AddAttribute(variable, daflow.ChecksumAttribute, "abc123")
	}
	h.Define()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cf, err := cdf.Create(f, h)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]float32, len(data))
	for i, e := range data {
		buf[i] = float32(e)
	}
	w := cf.Writer(variable, nil, nil)
	if wn, err := w.Write(buf); err != nil && !(errors.Is(err, io.EOF) && wn == len(buf)) {
		t.Fatal(err)
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		t.Fatal(err)
	}
}

// readFieldFixture loads one variable's values from a restart file.
func readFieldFixture(t *testing.T, path, variable string) []float64 {
	t.Helper()
	ff, err := daflow.OpenFieldFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	data, err := ff.ReadVariable(variable)
	if err != nil {
		t.Fatal(err)
	}
	return data.Elements
}

func wantValues(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i, w := range want {
		if math.Abs(got[i]-w) > 1e-6 {
			t.Errorf("value %d: got %g, want %g", i, got[i], w)
		}
	}
}

// writeIncVars writes a variable-list document and returns its path.
func writeIncVars(t *testing.T, dir string, vars ...string) string {
	t.Helper()
	doc := "vars:\n"
	for _, v := range vars {
		doc += "  - " + v + "\n"
	}
	path := filepath.Join(dir, "incvars.yaml")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
