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
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// TilePlaceholder is the substring in a path template that is replaced
// by the one-based tile number.
const TilePlaceholder = "[TILE]"

// An IncrementApplier adds analysis increment fields onto background
// fields stored in per-tile NetCDF restart files. The background files
// are updated in place; the increment files are never written to.
type IncrementApplier struct {
	// Tiles is the number of cubed-sphere tiles, numbered 1..Tiles.
	Tiles int

	// Vars lists the variables to update, in order. Every listed
	// variable must exist in both the increment and background file
	// of every tile.
	Vars []string

	Log *zap.SugaredLogger
}

// TilePath substitutes the one-based tile number n into template.
func TilePath(template string, n int) string {
	return strings.Replace(template, TilePlaceholder, strconv.Itoa(n), -1)
}

// Apply adds each increment field to the corresponding background field
// for every tile. incTemplate and bkgTemplate are file path templates
// containing the [TILE] placeholder. Tiles are processed in order, and
// the first error stops the run; tiles already completed keep their
// updated values.
func (ia *IncrementApplier) Apply(incTemplate, bkgTemplate string) error {
	if ia.Tiles < 1 {
		return fmt.Errorf("daflow: tile count %d out of range", ia.Tiles)
	}
	if len(ia.Vars) == 0 {
		return fmt.Errorf("daflow: no variables to apply")
	}
	for n := 1; n <= ia.Tiles; n++ {
		incPath := TilePath(incTemplate, n)
		bkgPath := TilePath(bkgTemplate, n)
		if ia.Log != nil {
			ia.Log.Infow("applying increment", "tile", n, "increment", incPath, "background", bkgPath)
		}
		if err := ia.applyTile(incPath, bkgPath); err != nil {
			return fmt.Errorf("daflow: tile %d: %w", n, err)
		}
	}
	return nil
}

// applyTile updates a single background file from a single increment
// file. Variables are processed in order, each validated against the
// background before anything is written, so a failing variable leaves
// itself and the later variables untouched while earlier updates
// stand.
func (ia *IncrementApplier) applyTile(incPath, bkgPath string) error {
	inc, err := OpenFieldFile(incPath)
	if err != nil {
		return err
	}
	defer inc.Close()
	bkg, err := OpenFieldFileReadWrite(bkgPath)
	if err != nil {
		return err
	}
	defer bkg.Close()

	for _, v := range ia.Vars {
		if err := ia.applyVariable(inc, bkg, v); err != nil {
			return err
		}
	}
	return nil
}

func (ia *IncrementApplier) applyVariable(inc, bkg *FieldFile, name string) error {
	if !inc.HasVariable(name) {
		return &VariableNotFoundError{Path: inc.Path(), Variable: name}
	}
	if !bkg.HasVariable(name) {
		return &VariableNotFoundError{Path: bkg.Path(), Variable: name}
	}
	bShape, err := bkg.Shape(name)
	if err != nil {
		return err
	}
	iShape, err := inc.Shape(name)
	if err != nil {
		return err
	}
	bKind, err := bkg.Kind(name)
	if err != nil {
		return err
	}
	iKind, err := inc.Kind(name)
	if err != nil {
		return err
	}
	if !equalShape(bShape, iShape) || bKind != iKind {
		return &ShapeMismatchError{
			Variable:        name,
			BackgroundShape: bShape,
			IncrementShape:  iShape,
			BackgroundKind:  bKind,
			IncrementKind:   iKind,
		}
	}

	delta, err := inc.ReadVariable(name)
	if err != nil {
		return err
	}
	field, err := bkg.ReadVariable(name)
	if err != nil {
		return err
	}
	field.AddDense(delta)
	if err := bkg.WriteVariable(name, field); err != nil {
		return err
	}
	// Stored checksums no longer match the updated field. A variable
	// without the attribute is left alone.
	if err := bkg.RemoveChecksum(name); err != nil {
		return fmt.Errorf("removing checksum for %s in %s: %w", name, bkg.Path(), err)
	}
	if ia.Log != nil {
		ia.Log.Debugw("updated variable", "variable", name, "file", bkg.Path())
	}
	return nil
}
