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
	"fmt"
	"path/filepath"
	"sort"

	"github.com/nwpmodel/daflow/archive"
	"github.com/nwpmodel/daflow/staging"
)

// StatAnalysis repackages analysis statistics for long-term archival:
// stat tarballs from earlier cycles are staged, unpacked and a
// selected subset of their members re-archived to COM.
type StatAnalysis struct {
	cfg  *Config
	sync *staging.Syncer

	// Stats names the stat tarballs in ComIn to process, "aerostat"
	// or "snowstat".
	Stats []string

	// Select are glob patterns choosing the members to keep. All
	// compressed diagnostics when empty.
	Select []string
}

func NewStatAnalysis(cfg *Config, stats ...string) *StatAnalysis {
	return &StatAnalysis{
		cfg:   cfg,
		sync:  &staging.Syncer{Log: cfg.Log},
		Stats: stats,
	}
}

func (t *StatAnalysis) statDir(stat string) string {
	return filepath.Join(t.cfg.DataDir, "stats", stat)
}

// Initialize stages each stat tarball into its own working directory.
func (t *StatAnalysis) Initialize() error {
	m := new(staging.Manifest)
	for _, stat := range t.Stats {
		m.Mkdir = append(m.Mkdir, t.statDir(stat))
		name := t.cfg.APrefix() + stat
		m.CopyPair(filepath.Join(t.cfg.ComIn, name), filepath.Join(t.statDir(stat), name))
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: stat analysis: %w", err)
	}
	return nil
}

// Execute unpacks the staged tarballs.
func (t *StatAnalysis) Execute() error {
	for _, stat := range t.Stats {
		tarPath := filepath.Join(t.statDir(stat), t.cfg.APrefix()+stat)
		if err := archive.Extract(tarPath); err != nil {
			return fmt.Errorf("task: stat analysis: %w", err)
		}
	}
	return nil
}

// selectMembers lists the unpacked members chosen by the Select
// patterns, sorted for a stable archive layout.
func (t *StatAnalysis) selectMembers(stat string) ([]string, error) {
	patterns := t.Select
	if len(patterns) == 0 {
		patterns = []string{"*.nc.gz"}
	}
	var members []string
	for _, pat := range patterns {
		m, err := filepath.Glob(filepath.Join(t.statDir(stat), pat))
		if err != nil {
			return nil, fmt.Errorf("task: stat analysis: pattern %q: %v", pat, err)
		}
		members = append(members, m...)
	}
	sort.Strings(members)
	return members, nil
}

// Finalize re-archives the selected members of each stat tarball to
// COM.
func (t *StatAnalysis) Finalize() error {
	m := &staging.Manifest{Mkdir: []string{t.cfg.ComOut}}
	for _, stat := range t.Stats {
		members, err := t.selectMembers(stat)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return fmt.Errorf("task: stat analysis: no members selected from %s", stat)
		}
		out := filepath.Join(t.cfg.DataDir, t.cfg.APrefix()+stat+".archive")
		if err := archive.CreateTar(out, members); err != nil {
			return fmt.Errorf("task: stat analysis: %w", err)
		}
		m.CopyPair(out, filepath.Join(t.cfg.ComOut, t.cfg.APrefix()+stat))
	}
	if err := t.sync.Sync(m); err != nil {
		return fmt.Errorf("task: stat analysis: %w", err)
	}
	return nil
}
