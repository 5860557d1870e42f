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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nwpmodel/daflow"
)

func aeroTestConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	c := baseConfig()
	c.Tiles = 2
	c.DataDir = filepath.Join(dir, "run")
	c.ComIn = filepath.Join(dir, "comin")
	c.ComOut = filepath.Join(dir, "comout")
	c.IncVarsPath = writeIncVars(t, dir, "dust1")

	c.ExeSource = filepath.Join(dir, "install", "aeroanl.x")
	if err := os.MkdirAll(filepath.Dir(c.ExeSource), os.ModePerm); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.ExeSource, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatal(err)
	}
	c.ConfigTemplate = filepath.Join(dir, "aeroanl.yaml.tmpl")
	tpl := "window begin: {{.WindowBegin}}\nnpx: {{.Npx}}\nlevels: {{.Levels}}\n"
	if err := os.WriteFile(c.ConfigTemplate, []byte(tpl), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(c.DataDir, os.ModePerm); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfig(c)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestAerosolLifecycle(t *testing.T) {
	cfg := aeroTestConfig(t)
	task := NewAerosolAnalysis(cfg)

	if err := task.InitializeEngine(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(cfg.DataDir, "aeroanl.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "npx: 97") {
		t.Errorf("rendered config: %q", b)
	}
	if _, err := os.Readlink(filepath.Join(cfg.DataDir, "aeroanl.x")); err != nil {
		t.Errorf("executable not staged: %v", err)
	}

	// Backgrounds in COM, one tracer restart per tile.
	name := FV3Timestamp(cfg.Cycle) + ".fv_tracer.res.tile" + daflow.TilePlaceholder + ".nc"
	for tile := 1; tile <= cfg.Tiles; tile++ {
		writeFieldFixture(t,
			daflow.TilePath(filepath.Join(cfg.ComIn, name), tile),
			"dust1", []float64{float64(tile), 2 * float64(tile)}, true)
	}
	if err := task.Initialize(); err != nil {
		t.Fatal(err)
	}
	for tile := 1; tile <= cfg.Tiles; tile++ {
		if _, err := os.Stat(daflow.TilePath(task.backgroundTemplate(), tile)); err != nil {
			t.Fatalf("background tile %d not staged: %v", tile, err)
		}
	}

	// Stand in for the engine: increments plus one diagnostic file.
	for tile := 1; tile <= cfg.Tiles; tile++ {
		writeFieldFixture(t,
			daflow.TilePath(task.incrementTemplate(), tile),
			"dust1", []float64{0.25, 0.75}, false)
	}
	if err := os.WriteFile(filepath.Join(cfg.DataDir, "diags", "diag_dust.nc"), []byte("diag"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := task.Finalize(); err != nil {
		t.Fatal(err)
	}
	for tile := 1; tile <= cfg.Tiles; tile++ {
		anl := filepath.Join(cfg.ComOut, cfg.APrefix()+"fv_tracer.res.tile"+daflow.TilePlaceholder+".nc")
		got := readFieldFixture(t, daflow.TilePath(anl, tile), "dust1")
		wantValues(t, got, []float64{float64(tile) + 0.25, 2*float64(tile) + 0.75})
	}
	for _, product := range []string{
		cfg.APrefix() + "aerostat",
		cfg.APrefix() + "aeroanl.yaml",
		cfg.APrefix() + "aeroinc.fv_tracer.res.tile1.nc",
	} {
		if _, err := os.Stat(filepath.Join(cfg.ComOut, product)); err != nil {
			t.Errorf("product %s not delivered: %v", product, err)
		}
	}
}

func TestAerosolFinalizeMissingIncrement(t *testing.T) {
	cfg := aeroTestConfig(t)
	task := NewAerosolAnalysis(cfg)

	name := FV3Timestamp(cfg.Cycle) + ".fv_tracer.res.tile" + daflow.TilePlaceholder + ".nc"
	for tile := 1; tile <= cfg.Tiles; tile++ {
		writeFieldFixture(t,
			daflow.TilePath(filepath.Join(cfg.ComIn, name), tile),
			"dust1", []float64{1, 2}, false)
	}
	if err := task.Initialize(); err != nil {
		t.Fatal(err)
	}
	// No increments were produced; Finalize must fail rather than
	// deliver unmodified backgrounds as analyses.
	if err := task.Finalize(); err == nil {
		t.Fatal("expected an error with no increment files")
	}
}
