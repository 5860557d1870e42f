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

package daflowutil

import (
	"context"
	"fmt"
	"time"

	"github.com/lnashier/viper"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nwpmodel/daflow/task"
)

// cycleLayout is the command-line form of the analysis valid time.
const cycleLayout = "2006010215"

// Logger builds the process logger.
func Logger(verbose bool) (*zap.SugaredLogger, error) {
	c := zap.NewProductionConfig()
	c.Encoding = "console"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		c.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := c.Build()
	if err != nil {
		return nil, fmt.Errorf("daflow: building logger: %v", err)
	}
	return l.Sugar(), nil
}

// TaskConfig assembles a task configuration from cfg once, before the
// task starts; tasks read the typed struct, never the viper instance.
func TaskConfig(cfg *viper.Viper, log *zap.SugaredLogger) (*task.Config, error) {
	cycleStr := cfg.GetString("cycle")
	if cycleStr == "" {
		return nil, fmt.Errorf("daflow: --cycle is required")
	}
	cycle, err := time.Parse(cycleLayout, cycleStr)
	if err != nil {
		return nil, fmt.Errorf("daflow: parsing cycle %q: %v", cycleStr, err)
	}
	freq, err := cast.ToIntE(cfg.Get("assim_freq"))
	if err != nil {
		return nil, fmt.Errorf("daflow: assim_freq: %v", err)
	}
	levels, err := cast.ToIntE(cfg.Get("levels"))
	if err != nil {
		return nil, fmt.Errorf("daflow: levels: %v", err)
	}
	tiles, err := cast.ToIntE(cfg.Get("tiles"))
	if err != nil {
		return nil, fmt.Errorf("daflow: tiles: %v", err)
	}
	return task.NewConfig(task.Config{
		Run:            cfg.GetString("run"),
		Cycle:          cycle,
		AssimFreq:      freq,
		DOIAU:          cfg.GetBool("doiau"),
		Case:           cfg.GetString("case"),
		Levels:         levels,
		Tiles:          tiles,
		DataDir:        cfg.GetString("data_dir"),
		ComIn:          cfg.GetString("com_in"),
		ComOut:         cfg.GetString("com_out"),
		FixDir:         cfg.GetString("fix_dir"),
		ExeSource:      cfg.GetString("exe"),
		RunCmd:         cfg.GetString("run_cmd"),
		ConfigTemplate: cfg.GetString("config_template"),
		IncVarsPath:    cfg.GetString("incvars"),
		ObsDir:         cfg.GetString("obs_dir"),
		CalcFimsExe:    cfg.GetString("calcfims_exe"),
		IMSConvExe:     cfg.GetString("imsconv_exe"),
		FimsTemplate:   cfg.GetString("fims_template"),
		Log:            log,
	})
}

// taskSetup builds the logger and configuration shared by every task
// subcommand.
func taskSetup() (*task.Config, *zap.SugaredLogger, error) {
	log, err := Logger(Cfg.GetBool("verbose"))
	if err != nil {
		return nil, nil, err
	}
	cfg, err := TaskConfig(Cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

var aeroanlCmd = &cobra.Command{
	Use:   "aeroanl",
	Short: "Run the aerosol analysis for one cycle.",
	Long: `aeroanl stages the tracer backgrounds and observations, runs the
variational aerosol analysis engine, applies the tracer increments to
the backgrounds and delivers the analysis products.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := taskSetup()
		if err != nil {
			return err
		}
		defer log.Sync()
		t := task.NewAerosolAnalysis(cfg)
		if err := t.InitializeEngine(); err != nil {
			return err
		}
		if err := t.Initialize(); err != nil {
			return err
		}
		if err := t.Execute(context.Background()); err != nil {
			return err
		}
		return t.Finalize()
	},
	DisableAutoGenTag: true,
}

var snowanlCmd = &cobra.Command{
	Use:   "snowanl",
	Short: "Run the snow-depth analysis for one cycle.",
	Long: `snowanl prepares the IMS snow depth observations when a calculator
is configured, runs the snow-depth analysis engine and folds the
resulting surface increments into the surface restarts, handling the
incremental analysis update window when enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := taskSetup()
		if err != nil {
			return err
		}
		defer log.Sync()
		t := task.NewSnowAnalysis(cfg)
		if err := t.InitializeEngine(); err != nil {
			return err
		}
		if err := t.Initialize(); err != nil {
			return err
		}
		if cfg.CalcFimsExe != "" {
			if err := t.PrepareObs(context.Background()); err != nil {
				return err
			}
		}
		if err := t.Execute(context.Background()); err != nil {
			return err
		}
		if err := t.AddIncrements(); err != nil {
			return err
		}
		return t.Finalize()
	},
	DisableAutoGenTag: true,
}

var snowensanlCmd = &cobra.Command{
	Use:   "snowensanl",
	Short: "Recenter the ensemble snow state for one cycle.",
	Long: `snowensanl analyzes the ensemble-mean snow state and applies the
recentering increment to the staged ensemble-mean surface restarts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := taskSetup()
		if err != nil {
			return err
		}
		defer log.Sync()
		t := task.NewSnowEnsAnalysis(cfg)
		if err := t.InitializeEngine(); err != nil {
			return err
		}
		if err := t.Initialize(); err != nil {
			return err
		}
		if err := t.Execute(context.Background()); err != nil {
			return err
		}
		if err := t.AddIncrements(); err != nil {
			return err
		}
		return t.Finalize()
	},
	DisableAutoGenTag: true,
}

var bmatrixCmd = &cobra.Command{
	Use:   "bmatrix",
	Short: "Estimate the background error covariance for one cycle.",
	Long: `bmatrix runs the background error estimation applications in
sequence, each with its own rendered configuration, and delivers the
error standard deviation fields.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := taskSetup()
		if err != nil {
			return err
		}
		defer log.Sync()
		t := task.NewBMatrix(cfg)
		if err := t.InitializeEngine(); err != nil {
			return err
		}
		if err := t.Initialize(); err != nil {
			return err
		}
		if err := t.Execute(context.Background()); err != nil {
			return err
		}
		return t.Finalize()
	},
	DisableAutoGenTag: true,
}

var statanlCmd = &cobra.Command{
	Use:   "statanl",
	Short: "Repackage analysis statistics for archival.",
	Long: `statanl stages the stat tarballs from earlier cycles, unpacks them
and re-archives the selected diagnostics to COM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := taskSetup()
		if err != nil {
			return err
		}
		defer log.Sync()
		t := task.NewStatAnalysis(cfg, Cfg.GetStringSlice("stats")...)
		if err := t.Initialize(); err != nil {
			return err
		}
		if err := t.Execute(); err != nil {
			return err
		}
		return t.Finalize()
	},
	DisableAutoGenTag: true,
}
