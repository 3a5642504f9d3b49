/*
Copyright © 2021 the ebudget authors.
This file is part of ebudget.

ebudget is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

ebudget is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with ebudget.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package ebudgetutil contains the command-line interface for ebudget.
package ebudgetutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/ebudget"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

type option struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

var options []option

func init() {
	archiveSets := []*pflag.FlagSet{runCmd.Flags(), selectCmd.Flags()}
	registrySets := []*pflag.FlagSet{runCmd.Flags(), selectCmd.Flags(), stateCmd.Flags()}

	// Options are the configuration options available to ebudget.
	options = []option{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "ArchiveRoot",
			usage: `
              ArchiveRoot is the directory holding the CMIP6 archive, laid out as
              <model>/<experiment>/<run>/Amon/<variable>/<version>/*.nc.`,
			defaultVal: "/nfs/b0110/Data/cmip6",
			flagsets:   archiveSets,
		},
		{
			name: "FileExtension",
			usage: `
              FileExtension is the extension of the archive files to read.`,
			defaultVal: "nc",
			flagsets:   archiveSets,
		},
		{
			name: "OutputRoot",
			usage: `
              OutputRoot is the directory that the cmip6 output directory is
              created in.`,
			defaultVal: "../data_output",
			flagsets:   registrySets,
		},
		{
			name: "InputRoot",
			usage: `
              InputRoot is the directory holding the model registry files.`,
			defaultVal: "../data_input",
			flagsets:   registrySets,
		},
		{
			name: "RegistryFile",
			usage: `
              RegistryFile is the JSON model registry. The default is the
              registry file of the experiment within InputRoot.`,
			defaultVal: "",
			flagsets:   registrySets,
		},
		{
			name: "RegistryKey",
			usage: `
              RegistryKey is the dotted path to the model list within the
              registry file, for example "cmip6.models". The default depends
              on the experiment.`,
			defaultVal: "",
			flagsets:   registrySets,
		},
		{
			name: "Models",
			usage: `
              Models is a list of models to attempt instead of the models in
              the registry.`,
			defaultVal: []string{},
			flagsets:   registrySets,
		},
		{
			name: "RunIDs",
			usage: `
              RunIDs maps model names to the run to process for that model,
              for example {"CNRM-CM6-1":"r1i1p1f2"}. Runs of other models are
              discovered from the archive.`,
			defaultVal: map[string]string{},
			flagsets:   archiveSets,
		},
		{
			name: "StateFile",
			usage: `
              StateFile records the models that have been processed. The default
              is OutputRoot/cmip6/state.toml.`,
			defaultVal: "",
			flagsets:   registrySets,
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of model runs to process at once.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Retries",
			usage: `
              Retries is the number of times opening an archive file is retried.`,
			defaultVal: 3,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "DropPartialYears",
			usage: `
              DropPartialYears specifies whether years with fewer monthly values
              than usual are left out of the annual means.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "YearLabels",
			usage: `
              YearLabels specifies whether the time column of the output holds
              the calendar year instead of the midpoint date of each year.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "reprocess",
			usage: `
              reprocess specifies whether to attempt models that the state file
              lists as already processed.`,
			shorthand:  "r",
			defaultVal: false,
			flagsets:   archiveSets,
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of log messages: debug, info, warning
              or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFormat",
			usage: `
              LogFormat is the format of log messages: text or json.`,
			defaultVal: "text",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is a file that log messages are written to in addition
              to standard error.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("EBUDGET")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				json.NewEncoder(b).Encode(v)
				set.StringP(option.name, option.shorthand, strings.TrimSpace(b.String()), option.usage)
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
	Root.AddCommand(runCmd)
	Root.AddCommand(selectCmd)
	Root.AddCommand(stateCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("ebudget: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "ebudget",
	Short: "Extract global-mean energy budget time series from CMIP6 output.",
	Long: `ebudget reads the monthly rsdt, rsut, rlut and tas fields of CMIP6 models,
computes their area-weighted global means and annual means, and writes one
CSV table per model run and experiment.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'EBUDGET_var' where 'var' is the
name of the variable to be set. Path variables may contain environment
variables.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of ebudget.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ebudget v%s\n", ebudget.Version)
	},
	DisableAutoGenTag: true,
}

var experimentUsage = fmt.Sprintf("Valid experiments are %s.", strings.Join(ebudget.ExperimentNames(), ", "))

// runCmd processes an experiment.
var runCmd = &cobra.Command{
	Use:   "run experiment",
	Short: "Process an experiment.",
	Long: `run extracts the annual global means of every model run of an experiment
that has not already been processed, writes them to
OutputRoot/cmip6/<model>/<run>/<experiment>.csv, writes a summary of the
outcome of each model run, and updates the state file. ` + experimentUsage,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, closeLog, err := newLogger(Cfg)
		if err != nil {
			return err
		}
		defer closeLog()
		p, err := NewPipeline(args[0], Cfg, log)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		sum, err := p.Run(ctx)
		if sum != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "summary written to %s\n", p.Writer.SummaryPath(sum.Experiment))
		}
		return err
	},
	DisableAutoGenTag: true,
}

// selectCmd lists what run would process.
var selectCmd = &cobra.Command{
	Use:   "select experiment",
	Short: "List the model runs that would be processed.",
	Long: `select prints the model runs of an experiment that run would process,
without reading or writing any data. ` + experimentUsage,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, closeLog, err := newLogger(Cfg)
		if err != nil {
			return err
		}
		defer closeLog()
		p, err := NewPipeline(args[0], Cfg, log)
		if err != nil {
			return err
		}
		sel, err := p.Select(context.Background())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, pair := range sel.Pairs {
			fmt.Fprintf(w, "%s\t%s\n", pair.Model, pair.Run)
		}
		if len(sel.Excluded) > 0 {
			fmt.Fprintf(w, "already processed: %s\n", strings.Join(sel.Excluded, ", "))
		}
		if len(sel.NoVarsFound) > 0 {
			fmt.Fprintf(w, "missing variables: %s\n", strings.Join(sel.NoVarsFound, ", "))
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// stateCmd prints the state of an experiment.
var stateCmd = &cobra.Command{
	Use:   "state experiment",
	Short: "Print the processing state of an experiment.",
	Long: `state prints the models of an experiment that have been processed or that
are missing variables, after removing models that are no longer in the
registry. The state file is not changed. ` + experimentUsage,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, closeLog, err := newLogger(Cfg)
		if err != nil {
			return err
		}
		defer closeLog()
		e, err := experimentConfig(args[0], Cfg)
		if err != nil {
			return err
		}
		reg, err := loadRegistry(e, Cfg)
		if err != nil {
			return err
		}
		state, err := ebudget.LoadState(hostFs, statePath(Cfg))
		if err != nil {
			return err
		}
		if stale := state.Validate(e.Name, reg); len(stale) > 0 {
			log.WithField("models", stale).Warn("models in the state file are not in the registry")
		}
		out := map[string]ebudget.ExperimentState{e.Name: state.For(e.Name)}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(out)
	},
	DisableAutoGenTag: true,
}
