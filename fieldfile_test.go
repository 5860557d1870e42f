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

package daflow

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

const testTolerance = 1e-6

type testVar struct {
	dims     []string
	shape    []int
	data     []float64
	kind     string // "float32" when empty
	checksum string // no attribute when empty
}

// writeTestFile creates a classic NetCDF file at path holding the given
// variables, in the layout the model's restart writer produces.
func writeTestFile(t *testing.T, path string, dims []string, lengths []int, vars map[string]testVar) {
	t.Helper()
	h := cdf.NewHeader(dims, lengths)
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		v := vars[n]
		switch v.kind {
		case "", "float32":
			h.AddVariable(n, v.dims, []float32{0})
		case "float64":
			h.AddVariable(n, v.dims, []float64{0})
		case "int32":
			h.AddVariable(n, v.dims, []int32{0})
		default:
			t.Fatalf("unsupported test variable kind %q", v.kind)
		}
		if v.checksum != "" {
			h.AddAttribute(n, ChecksumAttribute, v.checksum)
		}
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
	for _, n := range names {
		v := vars[n]
		end := cf.Header.Lengths(n)
		begin := make([]int, len(end))
		if len(end) > 0 && end[0] == 0 {
			end[0] = v.shape[0]
		}
		w := cf.Writer(n, begin, end)
		var buf interface{}
		switch v.kind {
		case "", "float32":
			b := make([]float32, len(v.data))
			for i, e := range v.data {
				b[i] = float32(e)
			}
			buf = b
		case "float64":
			b := make([]float64, len(v.data))
			copy(b, v.data)
			buf = b
		case "int32":
			b := make([]int32, len(v.data))
			for i, e := range v.data {
				b[i] = int32(e)
			}
			buf = b
		}
		if wn, err := w.Write(buf); err != nil && !(errors.Is(err, io.EOF) && wn == len(v.data)) {
			t.Fatalf("writing test variable %s: %v", n, err)
		}
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		t.Fatal(err)
	}
}

// readVar loads the full contents of one variable from a file.
func readVar(t *testing.T, path, name string) *sparse.DenseArray {
	t.Helper()
	ff, err := OpenFieldFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	data, err := ff.ReadVariable(name)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func checkValues(t *testing.T, got *sparse.DenseArray, want []float64) {
	t.Helper()
	if len(got.Elements) != len(want) {
		t.Fatalf("got %d elements, want %d", len(got.Elements), len(want))
	}
	for i, w := range want {
		if math.Abs(got.Elements[i]-w) > testTolerance {
			t.Errorf("element %d: got %g, want %g", i, got.Elements[i], w)
		}
	}
}

func TestFieldFileReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bkg.nc")
	writeTestFile(t, path, []string{"y", "x"}, []int{2, 3}, map[string]testVar{
		"tracer": {
			dims:     []string{"y", "x"},
			shape:    []int{2, 3},
			data:     []float64{1, 2, 3, 4, 5, 6},
			checksum: "c0ffee",
		},
	})

	ff, err := OpenFieldFileReadWrite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()

	if !ff.HasVariable("tracer") {
		t.Fatal("tracer should be present")
	}
	if ff.HasVariable("humidity") {
		t.Fatal("humidity should be absent")
	}
	shape, err := ff.Shape("tracer")
	if err != nil {
		t.Fatal(err)
	}
	if !equalShape(shape, []int{2, 3}) {
		t.Errorf("shape: got %v, want [2 3]", shape)
	}
	kind, err := ff.Kind("tracer")
	if err != nil {
		t.Fatal(err)
	}
	if kind != "float32" {
		t.Errorf("kind: got %s, want float32", kind)
	}

	data, err := ff.ReadVariable("tracer")
	if err != nil {
		t.Fatal(err)
	}
	checkValues(t, data, []float64{1, 2, 3, 4, 5, 6})

	for i := range data.Elements {
		data.Elements[i] += 0.5
	}
	if err := ff.WriteVariable("tracer", data); err != nil {
		t.Fatal(err)
	}
	if err := ff.Close(); err != nil {
		t.Fatal(err)
	}
	checkValues(t, readVar(t, path, "tracer"), []float64{1.5, 2.5, 3.5, 4.5, 5.5, 6.5})
}

func TestFieldFileRecordVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.nc")
	writeTestFile(t, path, []string{"time", "x"}, []int{0, 2}, map[string]testVar{
		"wind": {
			dims:  []string{"time", "x"},
			shape: []int{3, 2},
			data:  []float64{1, 2, 3, 4, 5, 6},
		},
	})

	ff, err := OpenFieldFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	shape, err := ff.Shape("wind")
	if err != nil {
		t.Fatal(err)
	}
	if !equalShape(shape, []int{3, 2}) {
		t.Fatalf("record shape: got %v, want [3 2]", shape)
	}
	data, err := ff.ReadVariable("wind")
	if err != nil {
		t.Fatal(err)
	}
	checkValues(t, data, []float64{1, 2, 3, 4, 5, 6})
}

func TestFieldFileScalarVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalar.nc")
	writeTestFile(t, path, []string{"x"}, []int{2}, map[string]testVar{
		"tracer": {dims: []string{"x"}, shape: []int{2}, data: []float64{1, 2}},
		"count":  {data: []float64{7}},
	})

	ff, err := OpenFieldFileReadWrite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	// A variable with no dimensions is present, not missing.
	if !ff.HasVariable("count") {
		t.Fatal("zero-dimensional variable reported absent")
	}
	shape, err := ff.Shape("count")
	if err != nil {
		t.Fatal(err)
	}
	if len(shape) != 0 {
		t.Errorf("scalar shape: got %v, want empty", shape)
	}
	data, err := ff.ReadVariable("count")
	if err != nil {
		t.Fatal(err)
	}
	checkValues(t, data, []float64{7})
	data.Elements[0] = 9
	if err := ff.WriteVariable("count", data); err != nil {
		t.Fatal(err)
	}
	checkValues(t, readVar(t, path, "count"), []float64{9})
}

func TestFieldFileVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.nc")
	writeTestFile(t, path, []string{"x"}, []int{2}, map[string]testVar{
		"tracer":   {dims: []string{"x"}, shape: []int{2}, data: []float64{1, 2}},
		"humidity": {dims: []string{"x"}, shape: []int{2}, data: []float64{3, 4}},
	})
	ff, err := OpenFieldFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	got := ff.Variables()
	sort.Strings(got)
	want := []string{"humidity", "tracer"}
	if len(got) != len(want) {
		t.Fatalf("variables: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("variables: got %v, want %v", got, want)
		}
	}
}

func TestFieldFileVariableNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bkg.nc")
	writeTestFile(t, path, []string{"x"}, []int{2}, map[string]testVar{
		"tracer": {dims: []string{"x"}, shape: []int{2}, data: []float64{1, 2}},
	})
	ff, err := OpenFieldFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	_, err = ff.ReadVariable("humidity")
	var nf *VariableNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want VariableNotFoundError", err)
	}
	if nf.Variable != "humidity" {
		t.Errorf("error names variable %s, want humidity", nf.Variable)
	}
}

func TestFieldFileMissing(t *testing.T) {
	_, err := OpenFieldFile(filepath.Join(t.TempDir(), "nope.nc"))
	var fa *FileAccessError
	if !errors.As(err, &fa) {
		t.Fatalf("got %v, want FileAccessError", err)
	}
	if !os.IsNotExist(errors.Unwrap(fa)) {
		t.Errorf("cause should be a not-exist error, got %v", errors.Unwrap(fa))
	}
}

func TestFieldFileWriteShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bkg.nc")
	writeTestFile(t, path, []string{"y", "x"}, []int{2, 3}, map[string]testVar{
		"tracer": {dims: []string{"y", "x"}, shape: []int{2, 3}, data: []float64{1, 2, 3, 4, 5, 6}},
	})
	ff, err := OpenFieldFileReadWrite(path)
	if err != nil {
		t.Fatal(err)
	}
	err = ff.WriteVariable("tracer", sparse.ZerosDense(2, 2))
	var sm *ShapeMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("got %v, want ShapeMismatchError", err)
	}
	ff.Close()
	// The failed write must leave the file untouched.
	checkValues(t, readVar(t, path, "tracer"), []float64{1, 2, 3, 4, 5, 6})
}

func TestFieldFileReadOnlyWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bkg.nc")
	writeTestFile(t, path, []string{"x"}, []int{2}, map[string]testVar{
		"tracer": {dims: []string{"x"}, shape: []int{2}, data: []float64{1, 2}},
	})
	ff, err := OpenFieldFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	if err := ff.WriteVariable("tracer", sparse.ZerosDense(2)); err == nil {
		t.Fatal("writing through a read-only handle should fail")
	}
	if err := ff.RemoveChecksum("tracer"); err == nil {
		t.Fatal("removing an attribute through a read-only handle should fail")
	}
}

func TestFieldFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bkg.nc")
	writeTestFile(t, path, []string{"x"}, []int{2}, map[string]testVar{
		"tracer":   {dims: []string{"x"}, shape: []int{2}, data: []float64{1, 2}, checksum: "deadbeef"},
		"humidity": {dims: []string{"x"}, shape: []int{2}, data: []float64{3, 4}},
	})
	ff, err := OpenFieldFileReadWrite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()

	if !ff.HasChecksum("tracer") {
		t.Error("tracer should carry a checksum")
	}
	if ff.HasChecksum("humidity") {
		t.Error("humidity should not carry a checksum")
	}
	if err := ff.RemoveChecksum("tracer"); err != nil {
		t.Fatal(err)
	}
	if ff.HasChecksum("tracer") {
		t.Error("checksum should be gone after removal")
	}
	// Removal of an absent attribute is a no-op.
	if err := ff.RemoveChecksum("humidity"); err != nil {
		t.Fatal(err)
	}
	// Variable data survives the header rewrite.
	data, err := ff.ReadVariable("tracer")
	if err != nil {
		t.Fatal(err)
	}
	checkValues(t, data, []float64{1, 2})
}
