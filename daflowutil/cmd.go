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

// Package daflowutil wires the command-line interface for the daflow
// analysis tasks.
package daflowutil

import (
	"fmt"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nwpmodel/daflow"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	taskFlags := []*pflag.FlagSet{
		aeroanlCmd.Flags(), snowanlCmd.Flags(), snowensanlCmd.Flags(),
		bmatrixCmd.Flags(), statanlCmd.Flags(),
	}

	// Options are the configuration options available to daflow.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "verbose",
			usage: `
              verbose enables debug-level logging.`,
			shorthand:  "v",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "run",
			usage: `
              run is the workflow run name, gdas or gfs.`,
			defaultVal: "gdas",
			flagsets:   taskFlags,
		},
		{
			name: "cycle",
			usage: `
              cycle is the analysis valid time in YYYYMMDDHH form.`,
			defaultVal: "",
			flagsets:   taskFlags,
		},
		{
			name: "assim_freq",
			usage: `
              assim_freq is the cycling interval in hours.`,
			defaultVal: 6,
			flagsets:   taskFlags,
		},
		{
			name: "doiau",
			usage: `
              doiau applies increments at the window begin time as well
              as at the cycle time (incremental analysis update).`,
			defaultVal: false,
			flagsets:   taskFlags,
		},
		{
			name: "case",
			usage: `
              case is the cubed-sphere resolution name, C96 or similar.`,
			defaultVal: "C96",
			flagsets:   taskFlags,
		},
		{
			name: "levels",
			usage: `
              levels is the number of model levels.`,
			defaultVal: 127,
			flagsets:   taskFlags,
		},
		{
			name: "tiles",
			usage: `
              tiles is the number of cubed-sphere tiles.`,
			defaultVal: 6,
			flagsets:   append([]*pflag.FlagSet{applyincCmd.Flags()}, taskFlags...),
		},
		{
			name: "data_dir",
			usage: `
              data_dir is the scratch run directory for the task.`,
			defaultVal: "",
			flagsets:   taskFlags,
		},
		{
			name: "com_in",
			usage: `
              com_in is the directory holding the background restarts.`,
			defaultVal: "",
			flagsets:   taskFlags,
		},
		{
			name: "com_out",
			usage: `
              com_out is the directory receiving the analysis products.`,
			defaultVal: "",
			flagsets:   taskFlags,
		},
		{
			name: "fix_dir",
			usage: `
              fix_dir holds static engine input files; linked into the
              run directory when set.`,
			defaultVal: "",
			flagsets:   taskFlags,
		},
		{
			name: "exe",
			usage: `
              exe is the installed engine executable.`,
			defaultVal: "",
			flagsets:   taskFlags,
		},
		{
			name: "run_cmd",
			usage: `
              run_cmd is the platform parallel launch command prefixed
              to the executable, for example "mpiexec -n 6".`,
			defaultVal: "",
			flagsets:   taskFlags,
		},
		{
			name: "config_template",
			usage: `
              config_template is the engine configuration template; the
              bmatrix command treats it as a directory of per-stage
              templates.`,
			defaultVal: "",
			flagsets:   taskFlags,
		},
		{
			name: "incvars",
			usage: `
              incvars names the YAML list of increment variables.`,
			defaultVal: "",
			flagsets:   taskFlags,
		},
		{
			name: "obs_dir",
			usage: `
              obs_dir holds the cycle's raw observation inputs;
              prepared observations are delivered back to it.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{snowanlCmd.Flags()},
		},
		{
			name: "calcfims_exe",
			usage: `
              calcfims_exe is the fractional snow cover calculator
              executable; IMS observation preparation runs only when
              set.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{snowanlCmd.Flags()},
		},
		{
			name: "imsconv_exe",
			usage: `
              imsconv_exe converts the snow cover calculator output to
              the observation format the engine reads.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{snowanlCmd.Flags()},
		},
		{
			name: "fims_template",
			usage: `
              fims_template is the snow cover calculator namelist
              template.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{snowanlCmd.Flags()},
		},
		{
			name: "stats",
			usage: `
              stats names the stat tarballs to repackage.`,
			defaultVal: []string{"aerostat"},
			flagsets:   []*pflag.FlagSet{statanlCmd.Flags()},
		},
		{
			name: "increment",
			usage: `
              increment is the increment file path template; [TILE] is
              replaced by the tile number.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{applyincCmd.Flags()},
		},
		{
			name: "background",
			usage: `
              background is the background file path template; [TILE]
              is replaced by the tile number. Files are updated in
              place.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{applyincCmd.Flags()},
		},
		{
			name: "vars",
			usage: `
              vars lists the variables to update, in order.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{applyincCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("DAFLOW")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(aeroanlCmd)
	Root.AddCommand(snowanlCmd)
	Root.AddCommand(snowensanlCmd)
	Root.AddCommand(bmatrixCmd)
	Root.AddCommand(statanlCmd)
	Root.AddCommand(applyincCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("daflow: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "daflow",
	Short: "Analysis task orchestration for a global data-assimilation system.",
	Long: `daflow configures, stages and runs the analysis tasks of a cycled
data-assimilation workflow and applies the resulting increments to the
model restart files.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'DAFLOW_var' where 'var' is
the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
	SilenceUsage:      true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of daflow.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("daflow v%s\n", daflow.Version)
	},
	DisableAutoGenTag: true,
}

var applyincCmd = &cobra.Command{
	Use:   "applyinc",
	Short: "Apply increment fields to background files.",
	Long: `applyinc adds per-tile increment fields onto background restart
files in place: analysis = background + increment for every listed
variable. Stale per-variable checksum attributes are removed from the
updated files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := Logger(Cfg.GetBool("verbose"))
		if err != nil {
			return err
		}
		defer log.Sync()
		vars := Cfg.GetStringSlice("vars")
		inc := Cfg.GetString("increment")
		bkg := Cfg.GetString("background")
		if inc == "" || bkg == "" {
			return fmt.Errorf("daflow: both --increment and --background are required")
		}
		if strings.Contains(bkg, daflow.TilePlaceholder) != strings.Contains(inc, daflow.TilePlaceholder) {
			return fmt.Errorf("daflow: increment and background templates must both carry %s", daflow.TilePlaceholder)
		}
		tiles := Cfg.GetInt("tiles")
		if !strings.Contains(bkg, daflow.TilePlaceholder) {
			// A literal file pair is a single application.
			tiles = 1
		}
		applier := &daflow.IncrementApplier{
			Tiles: tiles,
			Vars:  vars,
			Log:   log,
		}
		return applier.Apply(inc, bkg)
	},
	DisableAutoGenTag: true,
}
