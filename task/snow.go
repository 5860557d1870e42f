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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nwpmodel/daflow"
	"github.com/nwpmodel/daflow/archive"
	"github.com/nwpmodel/daflow/engine"
	"github.com/nwpmodel/daflow/render"
	"github.com/nwpmodel/daflow/staging"
)

// SnowAnalysis runs the snow-depth analysis for one cycle. The engine
// produces per-tile surface increments; AddIncrements folds them into
// the surface restarts, at both window times when incremental analysis
// update is on.
type SnowAnalysis struct {
	cfg  *Config
	eng  *engine.Engine
	sync *staging.Syncer
}

func NewSnowAnalysis(cfg *Config) *SnowAnalysis {
	return &SnowAnalysis{
		cfg: cfg,
		eng: &engine.Engine{
			RunDir:     cfg.DataDir,
			ExeSource:  cfg.ExeSource,
			ConfigPath: filepath.Join(cfg.DataDir, "snowanl.yaml"),
			Log:        cfg.Log,
		},
		sync: &staging.Syncer{Log: cfg.Log},
	}
}

// sfcBackground is the staged surface restart path for valid time at.
func (t *SnowAnalysis) sfcBackground(at time.Time) string {
	return filepath.Join(t.cfg.DataDir, "anl",
		FV3Timestamp(at)+".sfc_data.tile"+daflow.TilePlaceholder+".nc")
}

// sfcIncrement is the surface increment path for valid time at.
func (t *SnowAnalysis) sfcIncrement(at time.Time) string {
	return filepath.Join(t.cfg.DataDir, "anl",
		"snowinc."+FV3Timestamp(at)+".sfc_data.tile"+daflow.TilePlaceholder+".nc")
}

// incrementTimes returns the valid times at which increments are
// applied: the window begin and the cycle time under IAU, the cycle
// time alone otherwise.
func (t *SnowAnalysis) incrementTimes() []time.Time {
	if t.cfg.DOIAU {
		return []time.Time{t.cfg.WindowBegin(), t.cfg.Cycle}
	}
	return []time.Time{t.cfg.Cycle}
}

// InitializeEngine renders the engine configuration and links the
// executable into the run directory.
func (t *SnowAnalysis) InitializeEngine() error {
	npx, err := t.cfg.Npx()
	if err != nil {
		return err
	}
	data := map[string]any{
		"Cycle":       t.cfg.Cycle.Format("2006-01-02T15:04:05Z"),
		"WindowBegin": t.cfg.WindowBegin().Format("2006-01-02T15:04:05Z"),
		"WindowHours": t.cfg.AssimFreq,
		"Case":        t.cfg.Case,
		"Npx":         npx,
		"DataDir":     t.cfg.DataDir,
	}
	if err := render.RenderToFile(t.cfg.ConfigTemplate, t.eng.ConfigPath, data); err != nil {
		return fmt.Errorf("task: snow analysis: %w", err)
	}
	return t.eng.StageExe()
}

// Initialize creates the run directory layout and stages the fix files
// and observation inputs.
func (t *SnowAnalysis) Initialize() error {
	m := &staging.Manifest{Mkdir: []string{
		filepath.Join(t.cfg.DataDir, "anl"),
		filepath.Join(t.cfg.DataDir, "diags"),
		filepath.Join(t.cfg.DataDir, "obs"),
	}}
	if t.cfg.FixDir != "" {
		m.LinkPair(t.cfg.FixDir, filepath.Join(t.cfg.DataDir, "fix"))
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: snow analysis: %w", err)
	}
	return nil
}

// imsRawName is the raw IMS snow cover file staged from the
// observation directory.
func (t *SnowAnalysis) imsRawName() string {
	return t.cfg.APrefix() + "imssnow.nc"
}

// imsDepthName is the snow depth field the calculator writes into the
// run directory.
func (t *SnowAnalysis) imsDepthName() string {
	return fmt.Sprintf("IMSscf.%s.%s_oro_data.nc", t.cfg.Cycle.Format("20060102"), t.cfg.Case)
}

// imsObsName is the converted observation file the engine reads.
func (t *SnowAnalysis) imsObsName() string {
	return fmt.Sprintf("ims_snow_%s.nc4", t.cfg.Cycle.Format("2006010215"))
}

// PrepareObs derives the IMS snow depth observations for the cycle:
// stage the surface backgrounds and the raw IMS snow cover file, run
// the fractional snow cover calculator over them with a rendered
// namelist, convert the resulting depth field to the observation
// format the engine reads and deliver it back to the observation
// directory.
func (t *SnowAnalysis) PrepareObs(ctx context.Context) error {
	if t.cfg.ObsDir == "" || t.cfg.CalcFimsExe == "" ||
		t.cfg.IMSConvExe == "" || t.cfg.FimsTemplate == "" {
		return fmt.Errorf("task: snow analysis: observation preparation needs the observation directory, calculator, converter and namelist template configured")
	}

	m := &staging.Manifest{Mkdir: []string{
		filepath.Join(t.cfg.DataDir, "bkg"),
		filepath.Join(t.cfg.DataDir, "obs"),
	}}
	name := FV3Timestamp(t.cfg.Cycle) + ".sfc_data.tile" + daflow.TilePlaceholder + ".nc"
	for tile := 1; tile <= t.cfg.Tiles; tile++ {
		m.CopyPair(
			daflow.TilePath(filepath.Join(t.cfg.ComIn, name), tile),
			daflow.TilePath(filepath.Join(t.cfg.DataDir, "bkg", name), tile),
		)
	}
	m.CopyPair(
		filepath.Join(t.cfg.ObsDir, t.imsRawName()),
		filepath.Join(t.cfg.DataDir, "obs", t.imsRawName()),
	)
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: snow analysis: %w", err)
	}

	res, err := t.cfg.Resolution()
	if err != nil {
		return err
	}
	data := map[string]any{
		"Date":       t.cfg.Cycle.Format("20060102"),
		"Hour":       t.cfg.Cycle.Hour(),
		"Case":       t.cfg.Case,
		"Resolution": res,
		"Tiles":      t.cfg.Tiles,
		"DataDir":    t.cfg.DataDir,
	}
	if err := render.RenderToFile(t.cfg.FimsTemplate,
		filepath.Join(t.cfg.DataDir, "fims.nml"), data); err != nil {
		return fmt.Errorf("task: snow analysis: %w", err)
	}

	// The calculator reads fims.nml from the run directory; it takes
	// no command-line configuration.
	calc := &engine.Engine{RunDir: t.cfg.DataDir, ExeSource: t.cfg.CalcFimsExe, Log: t.cfg.Log}
	if err := calc.StageExe(); err != nil {
		return err
	}
	if err := calc.Run(ctx, t.cfg.RunCmd); err != nil {
		return fmt.Errorf("task: snow analysis: snow cover calculator: %w", err)
	}
	depth := filepath.Join(t.cfg.DataDir, t.imsDepthName())
	if _, err := os.Stat(depth); err != nil {
		return fmt.Errorf("task: snow analysis: calculator produced no %s: %v", t.imsDepthName(), err)
	}

	obs := filepath.Join(t.cfg.DataDir, t.imsObsName())
	if err := os.Remove(obs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("task: snow analysis: removing stale %s: %v", t.imsObsName(), err)
	}
	// The converter is serial; it never runs under the parallel
	// launch command.
	conv := &engine.Engine{RunDir: t.cfg.DataDir, ExeSource: t.cfg.IMSConvExe, Log: t.cfg.Log}
	if err := conv.StageExe(); err != nil {
		return err
	}
	if err := conv.Run(ctx, "", "-i", depth, "-o", obs); err != nil {
		return fmt.Errorf("task: snow analysis: observation converter: %w", err)
	}
	if _, err := os.Stat(obs); err != nil {
		return fmt.Errorf("task: snow analysis: converter produced no %s: %v", t.imsObsName(), err)
	}

	d := &staging.Manifest{Mkdir: []string{t.cfg.ObsDir}}
	d.CopyPair(obs, filepath.Join(t.cfg.ObsDir, t.imsObsName()))
	if err := t.sync.Sync(d); err != nil {
		return fmt.Errorf("task: snow analysis: %w", err)
	}
	return nil
}

// Execute runs the analysis engine.
func (t *SnowAnalysis) Execute(ctx context.Context) error {
	return t.eng.Run(ctx, t.cfg.RunCmd)
}

// AddIncrements stages the surface restarts into the analysis
// directory and applies the snow increments to them. Under IAU the
// engine writes one increment at the cycle time; it is duplicated to
// the window begin time so both background times receive it.
func (t *SnowAnalysis) AddIncrements() error {
	times := t.incrementTimes()

	m := new(staging.Manifest)
	for _, at := range times {
		name := FV3Timestamp(at) + ".sfc_data.tile" + daflow.TilePlaceholder + ".nc"
		for tile := 1; tile <= t.cfg.Tiles; tile++ {
			m.CopyPair(
				daflow.TilePath(filepath.Join(t.cfg.ComIn, name), tile),
				daflow.TilePath(t.sfcBackground(at), tile),
			)
		}
	}
	if t.cfg.DOIAU {
		for tile := 1; tile <= t.cfg.Tiles; tile++ {
			m.CopyPair(
				daflow.TilePath(t.sfcIncrement(t.cfg.Cycle), tile),
				daflow.TilePath(t.sfcIncrement(t.cfg.WindowBegin()), tile),
			)
		}
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: snow analysis: %w", err)
	}

	vars, err := t.cfg.IncrementVariables()
	if err != nil {
		return fmt.Errorf("task: snow analysis: %w", err)
	}
	applier := &daflow.IncrementApplier{Tiles: t.cfg.Tiles, Vars: vars, Log: t.cfg.Log}
	for _, at := range times {
		if err := applier.Apply(t.sfcIncrement(at), t.sfcBackground(at)); err != nil {
			return fmt.Errorf("task: snow analysis: increments at %s: %w", FV3Timestamp(at), err)
		}
	}
	return nil
}

// Finalize packages the diagnostics and copies analyses and increments
// to COM.
func (t *SnowAnalysis) Finalize() error {
	diags, err := filepath.Glob(filepath.Join(t.cfg.DataDir, "diags", "*.nc"))
	if err != nil {
		return fmt.Errorf("task: snow analysis: listing diagnostics: %v", err)
	}
	m := &staging.Manifest{Mkdir: []string{t.cfg.ComOut}}
	if len(diags) > 0 {
		gz, err := archive.GzipFiles(diags)
		if err != nil {
			return fmt.Errorf("task: snow analysis: %w", err)
		}
		statPath := filepath.Join(t.cfg.DataDir, t.cfg.APrefix()+"snowstat")
		if err := archive.CreateTar(statPath, gz); err != nil {
			return fmt.Errorf("task: snow analysis: %w", err)
		}
		m.CopyPair(statPath, filepath.Join(t.cfg.ComOut, t.cfg.APrefix()+"snowstat"))
	}
	for _, at := range t.incrementTimes() {
		anlName := t.cfg.APrefix() + FV3Timestamp(at) + ".sfc_data.tile" + daflow.TilePlaceholder + ".nc"
		incName := t.cfg.APrefix() + "snowinc." + FV3Timestamp(at) + ".sfc_data.tile" + daflow.TilePlaceholder + ".nc"
		for tile := 1; tile <= t.cfg.Tiles; tile++ {
			m.CopyPair(
				daflow.TilePath(t.sfcBackground(at), tile),
				daflow.TilePath(filepath.Join(t.cfg.ComOut, anlName), tile),
			)
			m.CopyPair(
				daflow.TilePath(t.sfcIncrement(at), tile),
				daflow.TilePath(filepath.Join(t.cfg.ComOut, incName), tile),
			)
		}
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: snow analysis: %w", err)
	}
	return nil
}
