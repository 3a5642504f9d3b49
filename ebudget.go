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

// Package ebudget extracts annual global-mean energy-budget time series
// (rsdt, rsut, rlut and tas) from a CMIP6 archive.
package ebudget

import (
	"fmt"
	"sort"
)

// Version gives the version number.
const Version = "1.0.0"

// Variables are the energy-budget variables in output column order.
var Variables = []string{"rsdt", "rsut", "rlut", "tas"}

// ReferenceVariable is the variable that the other series are checked
// against and whose global attributes are kept.
const ReferenceVariable = "tas"

// TimeLabel specifies how the time column of the output is written.
type TimeLabel int

const (
	// DateLabel writes the midpoint of the year as "YYYY-MM-DD hh:mm:ss".
	DateLabel TimeLabel = iota
	// YearLabel writes the calendar year as an integer.
	YearLabel
)

// Experiment holds the per-experiment settings of the pipeline.
type Experiment struct {
	// Name is both the archive directory name and the output file name.
	Name string

	// TrackAttributes specifies whether the global attributes of the
	// reference variable are written alongside the CSV output.
	TrackAttributes bool

	// HistoricalFixes specifies whether the latitude and time coordinate
	// fixes are applied to every model.
	HistoricalFixes bool

	Label TimeLabel

	// RegistryFile is the default registry file name within the input
	// directory and RegistryKey is the dotted path to the model list
	// within it.
	RegistryFile string
	RegistryKey  string

	// Models, if not empty, replaces the registry.
	Models []string

	// RunIDs are fixed run identifiers by model. Models without an
	// entry have their runs discovered from the archive.
	RunIDs map[string]string
}

const (
	forcingFeedbackECS = "cmip56_forcing_feedback_ecs.json"
	feedbacksAR6       = "cmip56_feedbacks_AR6.json"
)

// Experiments are the supported experiments by name.
var Experiments = map[string]Experiment{
	"piControl": {
		Name:         "piControl",
		Label:        DateLabel,
		RegistryFile: forcingFeedbackECS,
		RegistryKey:  "CMIP6",
	},
	"piControl-cmip5": {
		Name:         "piControl-cmip5",
		Label:        DateLabel,
		RegistryFile: forcingFeedbackECS,
		RegistryKey:  "CMIP6",
		Models:       []string{"CanESM5"},
	},
	"hist-nat": {
		Name:            "hist-nat",
		TrackAttributes: true,
		HistoricalFixes: true,
		Label:           DateLabel,
		RegistryFile:    feedbacksAR6,
		RegistryKey:     "cmip6.models",
	},
	"historical": {
		Name:            "historical",
		TrackAttributes: true,
		HistoricalFixes: true,
		Label:           DateLabel,
		RegistryFile:    feedbacksAR6,
		RegistryKey:     "cmip6.models",
		Models:          []string{"CanESM5"},
	},
	"abrupt-4xCO2": {
		Name:            "abrupt-4xCO2",
		TrackAttributes: true,
		HistoricalFixes: true,
		Label:           DateLabel,
		RegistryFile:    forcingFeedbackECS,
		RegistryKey:     "CMIP6",
		Models: []string{
			"ACCESS-ESM1-5", "CanESM5", "CNRM-CM6-1", "GFDL-CM4", "GISS-E2-1-G",
			"HadGEM3-GC31-LL", "IPSL-CM6A-LR", "MIROC6", "NorESM2-LM",
		},
		// CanESM5 and GISS-E2-1-G use r1i1p1f1 to match the other experiments.
		RunIDs: map[string]string{
			"ACCESS-ESM1-5":   "r1i1p1f1",
			"CanESM5":         "r1i1p1f1",
			"CNRM-CM6-1":      "r1i1p1f2",
			"GFDL-CM4":        "r1i1p1f1",
			"GISS-E2-1-G":     "r1i1p1f1",
			"HadGEM3-GC31-LL": "r1i1p1f3",
			"IPSL-CM6A-LR":    "r1i1p1f1",
			"MIROC6":          "r1i1p1f1",
			"NorESM2-LM":      "r1i1p1f1",
		},
	},
}

// LookupExperiment returns a copy of the named experiment.
func LookupExperiment(name string) (Experiment, error) {
	e, ok := Experiments[name]
	if !ok {
		return Experiment{}, fmt.Errorf("ebudget: unknown experiment %q; valid experiments are %v", name, ExperimentNames())
	}
	e.Models = append([]string(nil), e.Models...)
	runs := make(map[string]string, len(e.RunIDs))
	for m, r := range e.RunIDs {
		runs[m] = r
	}
	e.RunIDs = runs
	return e, nil
}

// ExperimentNames returns the sorted names of the supported experiments.
func ExperimentNames() []string {
	names := make([]string, 0, len(Experiments))
	for n := range Experiments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
