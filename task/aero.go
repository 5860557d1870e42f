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
	"path/filepath"

	"github.com/nwpmodel/daflow"
	"github.com/nwpmodel/daflow/archive"
	"github.com/nwpmodel/daflow/engine"
	"github.com/nwpmodel/daflow/render"
	"github.com/nwpmodel/daflow/staging"
)

// AerosolAnalysis runs the aerosol variational analysis for one cycle:
// stage backgrounds and observations, run the engine, apply tracer
// increments to the background restarts and deliver the products.
type AerosolAnalysis struct {
	cfg  *Config
	eng  *engine.Engine
	sync *staging.Syncer
}

func NewAerosolAnalysis(cfg *Config) *AerosolAnalysis {
	return &AerosolAnalysis{
		cfg: cfg,
		eng: &engine.Engine{
			RunDir:     cfg.DataDir,
			ExeSource:  cfg.ExeSource,
			ConfigPath: filepath.Join(cfg.DataDir, "aeroanl.yaml"),
			Log:        cfg.Log,
		},
		sync: &staging.Syncer{Log: cfg.Log},
	}
}

// backgroundTemplate is the staged tracer restart path, one file per
// tile.
func (t *AerosolAnalysis) backgroundTemplate() string {
	return filepath.Join(t.cfg.DataDir, "bkg",
		FV3Timestamp(t.cfg.Cycle)+".fv_tracer.res.tile"+daflow.TilePlaceholder+".nc")
}

// incrementTemplate is the path where the engine writes the tracer
// increment, one file per tile.
func (t *AerosolAnalysis) incrementTemplate() string {
	return filepath.Join(t.cfg.DataDir, "anl",
		"aeroinc."+FV3Timestamp(t.cfg.Cycle)+".fv_tracer.res.tile"+daflow.TilePlaceholder+".nc")
}

// InitializeEngine renders the engine configuration and links the
// executable into the run directory.
func (t *AerosolAnalysis) InitializeEngine() error {
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
		"Levels":      t.cfg.Levels,
		"DataDir":     t.cfg.DataDir,
	}
	if err := render.RenderToFile(t.cfg.ConfigTemplate, t.eng.ConfigPath, data); err != nil {
		return fmt.Errorf("task: aerosol analysis: %w", err)
	}
	return t.eng.StageExe()
}

// Initialize creates the run directory layout and stages the fix files
// and background restarts.
func (t *AerosolAnalysis) Initialize() error {
	m := &staging.Manifest{Mkdir: []string{
		filepath.Join(t.cfg.DataDir, "anl"),
		filepath.Join(t.cfg.DataDir, "diags"),
		filepath.Join(t.cfg.DataDir, "bkg"),
		filepath.Join(t.cfg.DataDir, "obs"),
	}}
	if t.cfg.FixDir != "" {
		m.LinkPair(t.cfg.FixDir, filepath.Join(t.cfg.DataDir, "fix"))
	}
	name := FV3Timestamp(t.cfg.Cycle) + ".fv_tracer.res.tile" + daflow.TilePlaceholder + ".nc"
	for tile := 1; tile <= t.cfg.Tiles; tile++ {
		m.CopyPair(
			daflow.TilePath(filepath.Join(t.cfg.ComIn, name), tile),
			daflow.TilePath(t.backgroundTemplate(), tile),
		)
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: aerosol analysis: %w", err)
	}
	return nil
}

// Execute runs the analysis engine.
func (t *AerosolAnalysis) Execute(ctx context.Context) error {
	return t.eng.Run(ctx, t.cfg.RunCmd)
}

// Finalize packages the diagnostics, applies the tracer increments to
// the staged backgrounds and copies the products to COM.
func (t *AerosolAnalysis) Finalize() error {
	diags, err := filepath.Glob(filepath.Join(t.cfg.DataDir, "diags", "*.nc"))
	if err != nil {
		return fmt.Errorf("task: aerosol analysis: listing diagnostics: %v", err)
	}
	statPath := filepath.Join(t.cfg.DataDir, t.cfg.APrefix()+"aerostat")
	if len(diags) > 0 {
		gz, err := archive.GzipFiles(diags)
		if err != nil {
			return fmt.Errorf("task: aerosol analysis: %w", err)
		}
		if err := archive.CreateTar(statPath, gz); err != nil {
			return fmt.Errorf("task: aerosol analysis: %w", err)
		}
	}

	vars, err := t.cfg.IncrementVariables()
	if err != nil {
		return fmt.Errorf("task: aerosol analysis: %w", err)
	}
	applier := &daflow.IncrementApplier{Tiles: t.cfg.Tiles, Vars: vars, Log: t.cfg.Log}
	if err := applier.Apply(t.incrementTemplate(), t.backgroundTemplate()); err != nil {
		return fmt.Errorf("task: aerosol analysis: %w", err)
	}

	m := &staging.Manifest{Mkdir: []string{t.cfg.ComOut}}
	if len(diags) > 0 {
		m.CopyPair(statPath, filepath.Join(t.cfg.ComOut, t.cfg.APrefix()+"aerostat"))
	}
	m.CopyPair(t.eng.ConfigPath, filepath.Join(t.cfg.ComOut, t.cfg.APrefix()+"aeroanl.yaml"))
	anlName := t.cfg.APrefix() + "fv_tracer.res.tile" + daflow.TilePlaceholder + ".nc"
	incName := t.cfg.APrefix() + "aeroinc.fv_tracer.res.tile" + daflow.TilePlaceholder + ".nc"
	for tile := 1; tile <= t.cfg.Tiles; tile++ {
		m.CopyPair(
			daflow.TilePath(t.backgroundTemplate(), tile),
			daflow.TilePath(filepath.Join(t.cfg.ComOut, anlName), tile),
		)
		m.CopyPair(
			daflow.TilePath(t.incrementTemplate(), tile),
			daflow.TilePath(filepath.Join(t.cfg.ComOut, incName), tile),
		)
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: aerosol analysis: %w", err)
	}
	return nil
}
