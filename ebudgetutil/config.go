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

package ebudgetutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/ebudget"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
)

// hostFs is the filesystem that the commands read from and write to.
var hostFs afero.Fs = afero.NewOsFs()

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]string{}, nil
		}
		o := make(map[string]string)
		if err := json.NewDecoder(bytes.NewBufferString(v)).Decode(&o); err != nil {
			return nil, fmt.Errorf("ebudget: parsing configuration variable %s: %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("ebudget: invalid type for configuration variable %s: %#v", varName, i)
	}
}

// experimentConfig returns the named experiment with the Models,
// RunIDs and RegistryKey settings of cfg applied.
func experimentConfig(name string, cfg *viper.Viper) (ebudget.Experiment, error) {
	e, err := ebudget.LookupExperiment(name)
	if err != nil {
		return e, err
	}
	if models := expandStringSlice(cfg.GetStringSlice("Models")); len(models) > 0 {
		e.Models = models
	}
	runs, err := GetStringMapString("RunIDs", cfg)
	if err != nil {
		return e, err
	}
	for m, r := range runs {
		e.RunIDs[os.ExpandEnv(m)] = os.ExpandEnv(r)
	}
	if key := cfg.GetString("RegistryKey"); key != "" {
		e.RegistryKey = key
	}
	if cfg.GetBool("YearLabels") {
		e.Label = ebudget.YearLabel
	}
	return e, nil
}

// registryPath returns the registry file of e: RegistryFile if it is
// set, or the experiment's default file in InputRoot.
func registryPath(e ebudget.Experiment, cfg *viper.Viper) string {
	if f := os.ExpandEnv(cfg.GetString("RegistryFile")); f != "" {
		return f
	}
	return filepath.Join(os.ExpandEnv(cfg.GetString("InputRoot")), e.RegistryFile)
}

// loadRegistry returns the models to attempt for e. A static model list
// replaces the registry file.
func loadRegistry(e ebudget.Experiment, cfg *viper.Viper) (*ebudget.Registry, error) {
	if len(e.Models) > 0 {
		return ebudget.StaticRegistry(e.Models), nil
	}
	return ebudget.LoadRegistry(hostFs, registryPath(e, cfg), e.RegistryKey)
}

// statePath returns the location of the state file.
func statePath(cfg *viper.Viper) string {
	if f := os.ExpandEnv(cfg.GetString("StateFile")); f != "" {
		return f
	}
	return filepath.Join(os.ExpandEnv(cfg.GetString("OutputRoot")), "cmip6", "state.toml")
}

// newLogger returns a logger configured by the LogLevel, LogFormat and
// LogFile settings of cfg, and a function that closes the log file.
func newLogger(cfg *viper.Viper) (*logrus.Logger, func(), error) {
	log := logrus.New()
	name := cfg.GetString("LogLevel")
	if name == "" {
		name = "info"
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return nil, nil, fmt.Errorf("ebudget: LogLevel: %v", err)
	}
	log.Level = level
	switch f := cfg.GetString("LogFormat"); f {
	case "text", "":
		log.Formatter = &logrus.TextFormatter{}
	case "json":
		log.Formatter = &logrus.JSONFormatter{}
	default:
		return nil, nil, fmt.Errorf("ebudget: LogFormat must be text or json, not %q", f)
	}
	log.Out = os.Stderr
	closeLog := func() {}
	if path := os.ExpandEnv(cfg.GetString("LogFile")); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("ebudget: problem creating log file: %v", err)
		}
		log.Out = io.MultiWriter(os.Stderr, f)
		closeLog = func() { f.Close() }
	}
	return log, closeLog, nil
}

// NewPipeline returns a pipeline for the named experiment configured by
// cfg.
func NewPipeline(experiment string, cfg *viper.Viper, log logrus.FieldLogger) (*ebudget.Pipeline, error) {
	e, err := experimentConfig(experiment, cfg)
	if err != nil {
		return nil, err
	}
	reg, err := loadRegistry(e, cfg)
	if err != nil {
		return nil, err
	}
	stateFile := statePath(cfg)
	state, err := ebudget.LoadState(hostFs, stateFile)
	if err != nil {
		return nil, err
	}
	workers := cfg.GetInt("Workers")
	if workers < 1 {
		return nil, fmt.Errorf("ebudget: Workers must be at least 1, not %d", workers)
	}
	retries := cfg.GetInt("Retries")
	if retries < 0 {
		return nil, fmt.Errorf("ebudget: Retries must not be negative, not %d", retries)
	}
	return &ebudget.Pipeline{
		Experiment: e,
		Registry:   reg,
		State:      state,
		StateFile:  stateFile,
		Locator: &ebudget.Locator{
			Fs:   hostFs,
			Root: os.ExpandEnv(cfg.GetString("ArchiveRoot")),
			Ext:  cfg.GetString("FileExtension"),
		},
		Loader: &ebudget.Loader{
			Fs:      hostFs,
			Retries: retries,
			Log:     log,
		},
		Writer: &ebudget.Writer{
			Fs:   hostFs,
			Root: os.ExpandEnv(cfg.GetString("OutputRoot")),
		},
		Patches:          ebudget.DefaultPatches(e),
		Workers:          workers,
		DropPartialYears: cfg.GetBool("DropPartialYears"),
		Reprocess:        cfg.GetBool("reprocess"),
		Log:              log,
	}, nil
}
