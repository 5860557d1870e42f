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

// Package task implements the analysis task lifecycles: configure and
// stage one run of the external assimilation engine, execute it, apply
// the resulting increments to the model backgrounds, and deliver the
// products. Each task operates on one cycle of one run.
package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nwpmodel/daflow/render"
)

// FV3TimeLayout is the timestamp format used in restart file names.
const FV3TimeLayout = "20060102.150405"

// A Config describes one analysis cycle. All fields are plain typed
// values; assembly from flags, files and environment happens once in
// daflowutil before the task starts.
type Config struct {
	// Run is the workflow run name, "gdas" or "gfs".
	Run string

	// Cycle is the analysis valid time.
	Cycle time.Time

	// AssimFreq is the cycling interval in hours; the assimilation
	// window is centered on Cycle.
	AssimFreq int

	// DOIAU selects incremental analysis update: increments are
	// applied at the window begin time as well as at Cycle.
	DOIAU bool

	// Case is the cubed-sphere resolution name, "C96" for a 96x96
	// tile grid.
	Case string

	// Levels is the number of model levels.
	Levels int

	// Tiles is the number of cubed-sphere tiles.
	Tiles int

	// DataDir is the scratch run directory for this task.
	DataDir string

	// ComIn holds the previous cycle's model restarts (backgrounds).
	ComIn string

	// ComOut receives the analysis products.
	ComOut string

	// FixDir holds static input files for the engine.
	FixDir string

	// ExeSource is the installed engine executable.
	ExeSource string

	// RunCmd is the platform parallel launch command, possibly empty.
	RunCmd string

	// ConfigTemplate is the engine configuration template.
	ConfigTemplate string

	// IncVarsPath names the YAML list of increment variables.
	IncVarsPath string

	// ObsDir holds the cycle's raw observation inputs; prepared
	// observations are delivered back to it.
	ObsDir string

	// CalcFimsExe is the fractional snow cover calculator
	// executable. IMS observation preparation runs only when set.
	CalcFimsExe string

	// IMSConvExe converts the calculator output to the observation
	// format the analysis engine reads.
	IMSConvExe string

	// FimsTemplate is the calculator namelist template.
	FimsTemplate string

	Log *zap.SugaredLogger
}

// NewConfig validates c and fills derived defaults. It returns the
// validated configuration.
func NewConfig(c Config) (*Config, error) {
	if c.Run == "" {
		return nil, fmt.Errorf("task: run name is required")
	}
	if c.Cycle.IsZero() {
		return nil, fmt.Errorf("task: cycle time is required")
	}
	if c.AssimFreq <= 0 {
		return nil, fmt.Errorf("task: assimilation frequency %d must be positive", c.AssimFreq)
	}
	if c.Tiles < 1 {
		return nil, fmt.Errorf("task: tile count %d out of range", c.Tiles)
	}
	if _, err := c.Resolution(); err != nil {
		return nil, err
	}
	if c.Log == nil {
		c.Log = zap.NewNop().Sugar()
	}
	return &c, nil
}

// Resolution returns the grid cell count per tile side encoded in the
// case name, 96 for "C96".
func (c *Config) Resolution() (int, error) {
	if !strings.HasPrefix(c.Case, "C") {
		return 0, fmt.Errorf("task: malformed case %q", c.Case)
	}
	n, err := strconv.Atoi(c.Case[1:])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("task: malformed case %q", c.Case)
	}
	return n, nil
}

// Npx returns the grid corner count per tile side, resolution plus one.
func (c *Config) Npx() (int, error) {
	n, err := c.Resolution()
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// PrevCycle returns the valid time of the previous cycle.
func (c *Config) PrevCycle() time.Time {
	return c.Cycle.Add(-time.Duration(c.AssimFreq) * time.Hour)
}

// WindowBegin returns the start of the assimilation window centered on
// the cycle time.
func (c *Config) WindowBegin() time.Time {
	return c.Cycle.Add(-time.Duration(c.AssimFreq) * time.Hour / 2)
}

// APrefix returns the analysis product prefix, "gdas.t06z." for the
// gdas run at 06Z.
func (c *Config) APrefix() string {
	return fmt.Sprintf("%s.t%02dz.", c.Run, c.Cycle.Hour())
}

// GPrefix returns the guess product prefix, built from the previous
// cycle's hour.
func (c *Config) GPrefix() string {
	return fmt.Sprintf("%s.t%02dz.", c.Run, c.PrevCycle().Hour())
}

// FV3Timestamp formats t the way restart file names expect.
func FV3Timestamp(t time.Time) string {
	return t.Format(FV3TimeLayout)
}

type incVarsDoc struct {
	Vars []string `yaml:"vars"`
}

// IncrementVariables loads the ordered variable list from IncVarsPath.
func (c *Config) IncrementVariables() ([]string, error) {
	var doc incVarsDoc
	if err := render.LoadYAML(c.IncVarsPath, &doc); err != nil {
		return nil, err
	}
	if len(doc.Vars) == 0 {
		return nil, fmt.Errorf("task: no increment variables listed in %s", c.IncVarsPath)
	}
	return doc.Vars, nil
}
