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
	"github.com/nwpmodel/daflow/engine"
	"github.com/nwpmodel/daflow/render"
	"github.com/nwpmodel/daflow/staging"
)

// SnowEnsAnalysis recenters the snow state of the forecast ensemble:
// the engine analyzes the ensemble mean, and the resulting increment
// is applied to the staged ensemble-mean surface restarts.
type SnowEnsAnalysis struct {
	cfg  *Config
	eng  *engine.Engine
	sync *staging.Syncer
}

func NewSnowEnsAnalysis(cfg *Config) *SnowEnsAnalysis {
	return &SnowEnsAnalysis{
		cfg: cfg,
		eng: &engine.Engine{
			RunDir:     cfg.DataDir,
			ExeSource:  cfg.ExeSource,
			ConfigPath: filepath.Join(cfg.DataDir, "snowensanl.yaml"),
			Log:        cfg.Log,
		},
		sync: &staging.Syncer{Log: cfg.Log},
	}
}

func (t *SnowEnsAnalysis) sfcBackground() string {
	return filepath.Join(t.cfg.DataDir, "anl",
		FV3Timestamp(t.cfg.Cycle)+".sfc_data.tile"+daflow.TilePlaceholder+".nc")
}

func (t *SnowEnsAnalysis) sfcIncrement() string {
	return filepath.Join(t.cfg.DataDir, "anl",
		"snowinc."+FV3Timestamp(t.cfg.Cycle)+".sfc_data.tile"+daflow.TilePlaceholder+".nc")
}

// InitializeEngine renders the engine configuration and links the
// executable into the run directory.
func (t *SnowEnsAnalysis) InitializeEngine() error {
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
		return fmt.Errorf("task: snow ensemble analysis: %w", err)
	}
	return t.eng.StageExe()
}

// Initialize stages the ensemble-mean backgrounds: the coupler record
// and one surface restart per tile, copied from the ensemble COM.
func (t *SnowEnsAnalysis) Initialize() error {
	m := &staging.Manifest{Mkdir: []string{
		filepath.Join(t.cfg.DataDir, "anl"),
		filepath.Join(t.cfg.DataDir, "obs"),
	}}
	if t.cfg.FixDir != "" {
		m.LinkPair(t.cfg.FixDir, filepath.Join(t.cfg.DataDir, "fix"))
	}
	coupler := FV3Timestamp(t.cfg.Cycle) + ".coupler.res"
	m.CopyPair(
		filepath.Join(t.cfg.ComIn, coupler),
		filepath.Join(t.cfg.DataDir, "anl", coupler),
	)
	name := FV3Timestamp(t.cfg.Cycle) + ".sfc_data.tile" + daflow.TilePlaceholder + ".nc"
	for tile := 1; tile <= t.cfg.Tiles; tile++ {
		m.CopyPair(
			daflow.TilePath(filepath.Join(t.cfg.ComIn, name), tile),
			daflow.TilePath(t.sfcBackground(), tile),
		)
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: snow ensemble analysis: %w", err)
	}
	return nil
}

// Execute runs the analysis engine on the ensemble mean.
func (t *SnowEnsAnalysis) Execute(ctx context.Context) error {
	return t.eng.Run(ctx, t.cfg.RunCmd)
}

// AddIncrements applies the recentering increment to the staged
// ensemble-mean surface restarts.
func (t *SnowEnsAnalysis) AddIncrements() error {
	vars, err := t.cfg.IncrementVariables()
	if err != nil {
		return fmt.Errorf("task: snow ensemble analysis: %w", err)
	}
	applier := &daflow.IncrementApplier{Tiles: t.cfg.Tiles, Vars: vars, Log: t.cfg.Log}
	if err := applier.Apply(t.sfcIncrement(), t.sfcBackground()); err != nil {
		return fmt.Errorf("task: snow ensemble analysis: %w", err)
	}
	return nil
}

// Finalize copies the recentered restarts and the increments to COM.
func (t *SnowEnsAnalysis) Finalize() error {
	m := &staging.Manifest{Mkdir: []string{t.cfg.ComOut}}
	anlName := t.cfg.APrefix() + FV3Timestamp(t.cfg.Cycle) + ".sfc_data.tile" + daflow.TilePlaceholder + ".nc"
	incName := t.cfg.APrefix() + "snowinc." + FV3Timestamp(t.cfg.Cycle) + ".sfc_data.tile" + daflow.TilePlaceholder + ".nc"
	for tile := 1; tile <= t.cfg.Tiles; tile++ {
		m.CopyPair(
			daflow.TilePath(t.sfcBackground(), tile),
			daflow.TilePath(filepath.Join(t.cfg.ComOut, anlName), tile),
		)
		m.CopyPair(
			daflow.TilePath(t.sfcIncrement(), tile),
			daflow.TilePath(filepath.Join(t.cfg.ComOut, incName), tile),
		)
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: snow ensemble analysis: %w", err)
	}
	return nil
}
