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

import "fmt"

// FileAccessError reports a field file that is missing, unreadable or
// unwritable. It is not retried here; the calling orchestration layer
// owns any retry policy.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("daflow: accessing field file %s: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// VariableNotFoundError reports a requested variable that is absent
// from a field file.
type VariableNotFoundError struct {
	Path     string
	Variable string
}

func (e *VariableNotFoundError) Error() string {
	return fmt.Sprintf("daflow: variable %s not in file %s", e.Variable, e.Path)
}

// ShapeMismatchError reports background and increment arrays that do
// not conform for elementwise addition, either in shape or in the
// on-disk element type. It indicates upstream misconfiguration, such
// as a resolution or case mismatch.
type ShapeMismatchError struct {
	Variable        string
	BackgroundShape []int
	IncrementShape  []int
	BackgroundKind  string
	IncrementKind   string
}

func (e *ShapeMismatchError) Error() string {
	if e.BackgroundKind != e.IncrementKind {
		return fmt.Sprintf("daflow: variable %s: background type %s does not match increment type %s",
			e.Variable, e.BackgroundKind, e.IncrementKind)
	}
	return fmt.Sprintf("daflow: variable %s: background shape %v does not match increment shape %v",
		e.Variable, e.BackgroundShape, e.IncrementShape)
}
