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

// DefaultBMatrixStages are the engine applications of a background
// error estimation job, run in order.
var DefaultBMatrixStages = []string{"convertstate", "diffusion", "variance"}

// BMatrix estimates the background error covariance for a cycle. It
// runs a sequence of engine applications, each with its own rendered
// configuration, over the staged backgrounds.
type BMatrix struct {
	cfg  *Config
	sync *staging.Syncer

	// Stages names the engine applications to run, in order. Each
	// stage's template is <ConfigTemplate>/<stage>.yaml.tmpl, with
	// ConfigTemplate naming a directory here.
	Stages []string
}

func NewBMatrix(cfg *Config) *BMatrix {
	return &BMatrix{
		cfg:    cfg,
		sync:   &staging.Syncer{Log: cfg.Log},
		Stages: DefaultBMatrixStages,
	}
}

func (t *BMatrix) stageConfig(stage string) string {
	return filepath.Join(t.cfg.DataDir, stage+".yaml")
}

func (t *BMatrix) backgroundTemplate() string {
	return filepath.Join(t.cfg.DataDir, "bkg",
		FV3Timestamp(t.cfg.Cycle)+".fv_tracer.res.tile"+daflow.TilePlaceholder+".nc")
}

// InitializeEngine renders one configuration per stage and links the
// executable into the run directory.
func (t *BMatrix) InitializeEngine() error {
	if len(t.Stages) == 0 {
		return fmt.Errorf("task: b-matrix: no stages configured")
	}
	npx, err := t.cfg.Npx()
	if err != nil {
		return err
	}
	data := map[string]any{
		"Cycle":   t.cfg.Cycle.Format("2006-01-02T15:04:05Z"),
		"Case":    t.cfg.Case,
		"Npx":     npx,
		"Levels":  t.cfg.Levels,
		"DataDir": t.cfg.DataDir,
	}
	for _, stage := range t.Stages {
		tpl := filepath.Join(t.cfg.ConfigTemplate, stage+".yaml.tmpl")
		if err := render.RenderToFile(tpl, t.stageConfig(stage), data); err != nil {
			return fmt.Errorf("task: b-matrix: stage %s: %w", stage, err)
		}
	}
	eng := t.engineFor(t.Stages[0])
	return eng.StageExe()
}

// Initialize creates the run directory layout and stages fix files and
// backgrounds.
func (t *BMatrix) Initialize() error {
	m := &staging.Manifest{Mkdir: []string{
		filepath.Join(t.cfg.DataDir, "bkg"),
		filepath.Join(t.cfg.DataDir, "stddev"),
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
		return fmt.Errorf("task: b-matrix: %w", err)
	}
	return nil
}

func (t *BMatrix) engineFor(stage string) *engine.Engine {
	return &engine.Engine{
		RunDir:     t.cfg.DataDir,
		ExeSource:  t.cfg.ExeSource,
		ConfigPath: t.stageConfig(stage),
		Log:        t.cfg.Log,
	}
}

// Execute runs the engine applications in order; the first failure
// aborts the sequence.
func (t *BMatrix) Execute(ctx context.Context) error {
	for _, stage := range t.Stages {
		eng := t.engineFor(stage)
		if err := eng.Run(ctx, t.cfg.RunCmd); err != nil {
			return fmt.Errorf("task: b-matrix: stage %s: %w", stage, err)
		}
	}
	return nil
}

// Finalize copies the error standard deviation fields and the stage
// configurations to COM.
func (t *BMatrix) Finalize() error {
	m := &staging.Manifest{Mkdir: []string{t.cfg.ComOut}}
	for _, stage := range t.Stages {
		m.CopyPair(t.stageConfig(stage),
			filepath.Join(t.cfg.ComOut, t.cfg.APrefix()+stage+".yaml"))
	}
	stddev, err := filepath.Glob(filepath.Join(t.cfg.DataDir, "stddev", "*.nc"))
	if err != nil {
		return fmt.Errorf("task: b-matrix: listing stddev fields: %v", err)
	}
	for _, p := range stddev {
		m.CopyPair(p, filepath.Join(t.cfg.ComOut, t.cfg.APrefix()+filepath.Base(p)))
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: b-matrix: %w", err)
	}
	return nil
}
