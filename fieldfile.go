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
	"fmt"
	"io"
	"os"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// ChecksumAttribute is the per-variable integrity attribute written by
// the upstream model's restart writer. It is invalidated by any
// modification of the variable data and must be removed afterwards so
// that downstream tooling does not reject the file.
const ChecksumAttribute = "checksum"

// A FieldFile is one tile of a gridded model state: a classic NetCDF
// container holding named multi-dimensional numeric variables with
// optional per-variable attributes.
type FieldFile struct {
	path     string
	f        *os.File
	cf       *cdf.File
	writable bool
}

// OpenFieldFile opens the file at path for reading.
func OpenFieldFile(path string) (*FieldFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("daflow: opening field file %s: %v", path, err)
	}
	return &FieldFile{path: path, f: f, cf: cf}, nil
}

// OpenFieldFileReadWrite opens the file at path for in-place
// modification.
func OpenFieldFileReadWrite(path string) (*FieldFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("daflow: opening field file %s: %v", path, err)
	}
	return &FieldFile{path: path, f: f, cf: cf, writable: true}, nil
}

// Close releases the underlying file.
func (ff *FieldFile) Close() error {
	if err := ff.f.Close(); err != nil {
		return &FileAccessError{Path: ff.path, Err: err}
	}
	return nil
}

// Path returns the location of the underlying file.
func (ff *FieldFile) Path() string { return ff.path }

// Variables returns the names of all variables in the file.
func (ff *FieldFile) Variables() []string { return ff.cf.Header.Variables() }

// HasVariable reports whether the file contains a variable named name.
// A zero-dimensional variable counts as present.
func (ff *FieldFile) HasVariable(name string) bool {
	for _, v := range ff.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

// Shape returns the per-dimension lengths of the named variable, empty
// for a zero-dimensional variable. For a record variable the number of
// records takes the place of the unlimited dimension.
func (ff *FieldFile) Shape(name string) ([]int, error) {
	if !ff.HasVariable(name) {
		return nil, &VariableNotFoundError{Path: ff.path, Variable: name}
	}
	dims := ff.cf.Header.Lengths(name)
	if len(dims) > 0 && dims[0] == 0 {
		fi, err := ff.f.Stat()
		if err != nil {
			return nil, &FileAccessError{Path: ff.path, Err: err}
		}
		dims = append([]int{int(ff.cf.Header.NumRecs(fi.Size()))}, dims[1:]...)
	}
	return dims, nil
}

// Kind returns the on-disk element type of the named variable, one of
// "byte", "char", "int16", "int32", "float32" or "float64".
func (ff *FieldFile) Kind(name string) (string, error) {
	if !ff.HasVariable(name) {
		return "", &VariableNotFoundError{Path: ff.path, Variable: name}
	}
	switch ff.cf.Header.ZeroValue(name, 0).(type) {
	case []uint8:
		return "byte", nil
	case string:
		return "char", nil
	case []int16:
		return "int16", nil
	case []int32:
		return "int32", nil
	case []float32:
		return "float32", nil
	case []float64:
		return "float64", nil
	}
	return "", fmt.Errorf("daflow: variable %s in %s has an unsupported type", name, ff.path)
}

// corners returns the index vectors bracketing the full extent of a
// variable with the given resolved shape. The exclusive end corner is
// passed explicitly so that a complete write of a fixed variable lands
// short of the cdf strider's end offset and is not reported as io.EOF;
// only a zero-dimensional variable, for which no exclusive overshoot is
// expressible, uses nil corners.
func (ff *FieldFile) corners(name string, shape []int) (begin, end []int) {
	lengths := ff.cf.Header.Lengths(name)
	if len(lengths) == 0 {
		return nil, nil
	}
	begin = make([]int, len(shape))
	end = make([]int, len(shape))
	copy(end, shape)
	return begin, end
}

// ReadVariable reads the full array for the named variable, widening
// the file's element type to float64.
func (ff *FieldFile) ReadVariable(name string) (*sparse.DenseArray, error) {
	shape, err := ff.Shape(name)
	if err != nil {
		return nil, err
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	begin, end := ff.corners(name, shape)
	r := ff.cf.Reader(name, begin, end)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("daflow: reading variable %s from %s: %v", name, ff.path, err)
	}
	data := sparse.ZerosDense(shape...)
	switch v := buf.(type) {
	case []float64:
		copy(data.Elements, v)
	case []float32:
		for i, val := range v {
			data.Elements[i] = float64(val)
		}
	case []int32:
		for i, val := range v {
			data.Elements[i] = float64(val)
		}
	case []int16:
		for i, val := range v {
			data.Elements[i] = float64(val)
		}
	case []uint8:
		for i, val := range v {
			data.Elements[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("daflow: variable %s in %s is not numeric", name, ff.path)
	}
	return data, nil
}

// WriteVariable replaces the full contents of the named variable with
// data, narrowing back to the variable's on-disk element type. The
// shape of data must match the variable's shape exactly; the check
// happens before any byte is written.
func (ff *FieldFile) WriteVariable(name string, data *sparse.DenseArray) error {
	if !ff.writable {
		return fmt.Errorf("daflow: field file %s is open read-only", ff.path)
	}
	shape, err := ff.Shape(name)
	if err != nil {
		return err
	}
	if !equalShape(shape, data.Shape) {
		return &ShapeMismatchError{
			Variable:        name,
			BackgroundShape: shape,
			IncrementShape:  data.Shape,
		}
	}
	n := len(data.Elements)
	buf := ff.cf.Header.ZeroValue(name, n)
	switch v := buf.(type) {
	case []float64:
		copy(v, data.Elements)
	case []float32:
		for i, val := range data.Elements {
			v[i] = float32(val)
		}
	case []int32:
		for i, val := range data.Elements {
			v[i] = int32(val)
		}
	case []int16:
		for i, val := range data.Elements {
			v[i] = int16(val)
		}
	case []uint8:
		for i, val := range data.Elements {
			v[i] = uint8(val)
		}
	default:
		return fmt.Errorf("daflow: variable %s in %s is not numeric", name, ff.path)
	}
	begin, end := ff.corners(name, shape)
	w := ff.cf.Writer(name, begin, end)
	// A write that reaches the variable's exact byte extent surfaces
	// io.EOF from the cdf strider even though every element landed;
	// mirror io.ReadFull and treat a full-count write as success.
	if wn, err := w.Write(buf); err != nil && !(errors.Is(err, io.EOF) && wn == n) {
		return fmt.Errorf("daflow: writing variable %s to %s: %v", name, ff.path, err)
	}
	return nil
}

// HasChecksum reports whether the named variable carries a removable
// integrity attribute. It answers the capability question before any
// removal is attempted; a variable whose writer attached no checksum is
// an expected, benign condition.
func (ff *FieldFile) HasChecksum(name string) bool {
	return ff.cf.Header.GetAttribute(name, ChecksumAttribute) != nil
}

// RemoveChecksum deletes the integrity attribute from the named
// variable by rewriting the file header in place. Variable data and
// offsets are untouched. Removing an attribute that is not present is
// a no-op.
func (ff *FieldFile) RemoveChecksum(name string) error {
	if !ff.writable {
		return fmt.Errorf("daflow: field file %s is open read-only", ff.path)
	}
	if !ff.HasChecksum(name) {
		return nil
	}
	if err := removeVariableAttribute(ff.f, name, ChecksumAttribute); err != nil {
		return fmt.Errorf("daflow: removing %s attribute from %s in %s: %v",
			ChecksumAttribute, name, ff.path, err)
	}
	// Refresh the in-memory header to match the edited file.
	cf, err := cdf.Open(ff.f)
	if err != nil {
		return fmt.Errorf("daflow: reopening %s after attribute removal: %v", ff.path, err)
	}
	ff.cf = cf
	return nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if b[i] != v {
			return false
		}
	}
	return true
}
