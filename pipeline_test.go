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

package ebudget

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var fixtureValues = map[string]float64{
	"rsdt": 340.25,
	"rsut": 99.5,
	"rlut": 240.125,
	"tas":  287.5,
}

// writeRun writes an archive run of months monthly values of each of
// variables, split into files of at most perFile months.
func writeRun(t *testing.T, root, model, experiment, run string, months, perFile int, variables ...string) {
	t.Helper()
	for _, v := range variables {
		val := fixtureValues[v]
		for first := 0; first < months; first += perFile {
			n := perFile
			if first+n > months {
				n = months - first
			}
			fx := newFixture(v, first, n, func(_, _, _ int) float64 { return val })
			fx.attrs["source_id"] = model
			name := fmt.Sprintf("%s_Amon_%s_%s_%s_gn_%04d.nc", v, model, experiment, run, first)
			fx.write(t, archivePath(root, model, experiment, run, v, name))
		}
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func newTestPipeline(t *testing.T, dir, experiment string, models ...string) *Pipeline {
	t.Helper()
	e, err := LookupExperiment(experiment)
	if err != nil {
		t.Fatal(err)
	}
	fs := afero.NewOsFs()
	stateFile := filepath.Join(dir, "state", "ebudget.toml")
	state, err := LoadState(fs, stateFile)
	if err != nil {
		t.Fatal(err)
	}
	log := quietLogger()
	return &Pipeline{
		Experiment: e,
		Registry:   StaticRegistry(models),
		State:      state,
		StateFile:  stateFile,
		Locator:    &Locator{Fs: fs, Root: filepath.Join(dir, "archive")},
		Loader:     &Loader{Fs: fs, Log: log},
		Writer:     &Writer{Fs: fs, Root: filepath.Join(dir, "output")},
		Patches:    DefaultPatches(e),
		Workers:    2,
		Log:        log,
	}
}

func TestPipelineRun(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive")
	writeRun(t, archive, "CanESM5", "piControl", "r1i1p1f1", 500, 240, Variables...)
	writeRun(t, archive, "MIROC6", "piControl", "r1i1p1f1", 24, 24, "tas", "rsdt")
	writeRun(t, archive, "NorESM2-LM", "piControl", "r1i1p1f1", 500, 500, "rsdt", "rsut", "tas")
	writeRun(t, archive, "NorESM2-LM", "piControl", "r1i1p1f1", 480, 480, "rlut")

	p := newTestPipeline(t, dir, "piControl", "CanESM5", "MIROC6", "NorESM2-LM")
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	wantCounts := map[Status]int{Success: 1, SkippedMissingData: 1, SkippedInconsistent: 1, FailedUnexpected: 0}
	if !reflect.DeepEqual(sum.Counts, wantCounts) {
		t.Errorf("counts: have %v, want %v", sum.Counts, wantCounts)
	}
	if o := sum.Outcomes[0]; o.Model != "CanESM5" || o.Run != "r1i1p1f1" || o.Years != 42 {
		t.Errorf("have outcome %+v", o)
	}
	if o := sum.Outcomes[1]; o.Model != "MIROC6" || o.Run != "" || o.Status != SkippedMissingData {
		t.Errorf("have outcome %+v", o)
	}
	if o := sum.Outcomes[2]; o.Model != "NorESM2-LM" || o.Status != SkippedInconsistent || !strings.Contains(o.Error, "rlut") {
		t.Errorf("have outcome %+v", o)
	}

	var want strings.Builder
	want.WriteString("time,rsdt,rsut,rlut,tas\n")
	for y := 1850; y <= 1890; y++ {
		fmt.Fprintf(&want, "%d-07-02 12:00:00,340.25,99.5,240.125,287.5\n", y)
	}
	want.WriteString("1891-05-02 12:00:00,340.25,99.5,240.125,287.5\n")
	csvPath := p.Writer.CSVPath("CanESM5", "r1i1p1f1", "piControl")
	first, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != want.String() {
		t.Errorf("have\n%s\nwant\n%s", first, want.String())
	}
	if _, err := os.Stat(p.Writer.MetaPath("CanESM5", "r1i1p1f1", "piControl")); !os.IsNotExist(err) {
		t.Error("piControl should not write attributes")
	}
	for _, m := range []string{"MIROC6", "NorESM2-LM"} {
		if _, err := os.Stat(p.Writer.Dir(m, "r1i1p1f1")); !os.IsNotExist(err) {
			t.Errorf("%s should have no output", m)
		}
	}
	if _, err := os.Stat(p.Writer.SummaryPath("piControl")); err != nil {
		t.Error(err)
	}

	state, err := LoadState(afero.NewOsFs(), p.StateFile)
	if err != nil {
		t.Fatal(err)
	}
	wantState := ExperimentState{Successful: []string{"CanESM5"}, NoVarsFound: []string{"MIROC6"}}
	if !reflect.DeepEqual(state.For("piControl"), wantState) {
		t.Errorf("state: have %+v, want %+v", state.For("piControl"), wantState)
	}

	// A second run only retries the inconsistent model.
	p = newTestPipeline(t, dir, "piControl", "CanESM5", "MIROC6", "NorESM2-LM")
	sum, err = p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Outcomes) != 1 || sum.Outcomes[0].Model != "NorESM2-LM" {
		t.Errorf("second run: have outcomes %+v", sum.Outcomes)
	}

	// Reprocessing rewrites identical output.
	p = newTestPipeline(t, dir, "piControl", "CanESM5")
	p.Reprocess = true
	p.Workers = 1
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("reprocessing changed the output")
	}
	entries, err := os.ReadDir(p.Writer.Dir("CanESM5", "r1i1p1f1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("output directory holds %d entries, want 1", len(entries))
	}
}

func TestPipelineDropPartialYears(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, filepath.Join(dir, "archive"), "CanESM5", "piControl", "r1i1p1f1", 30, 30, Variables...)
	p := newTestPipeline(t, dir, "piControl", "CanESM5")
	p.DropPartialYears = true
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Outcomes[0].Years != 2 {
		t.Errorf("have %d years, want 2", sum.Outcomes[0].Years)
	}
}

func TestPipelineHistorical(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive")
	writeRun(t, archive, "CanESM5", "historical", "r1i1p1f1", 24, 12, Variables...)
	writeRun(t, archive, "CanESM5", "historical", "r2i1p1f1", 24, 24, Variables...)

	p := newTestPipeline(t, dir, "historical", "CanESM5")
	sel, err := p.Select(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	wantPairs := []Pair{{"CanESM5", "r1i1p1f1"}, {"CanESM5", "r2i1p1f1"}}
	if !reflect.DeepEqual(sel.Pairs, wantPairs) {
		t.Errorf("pairs: have %v, want %v", sel.Pairs, wantPairs)
	}

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Counts[Success] != 2 {
		t.Fatalf("have outcomes %+v", sum.Outcomes)
	}
	for _, run := range []string{"r1i1p1f1", "r2i1p1f1"} {
		b, err := os.ReadFile(p.Writer.CSVPath("CanESM5", run, "historical"))
		if err != nil {
			t.Fatal(err)
		}
		want := "time,rsdt,rsut,rlut,tas\n" +
			"1850-07-02 12:00:00,340.25,99.5,240.125,287.5\n" +
			"1851-07-02 12:00:00,340.25,99.5,240.125,287.5\n"
		if string(b) != want {
			t.Errorf("%s: have\n%s\nwant\n%s", run, b, want)
		}
		meta, err := os.ReadFile(p.Writer.MetaPath("CanESM5", run, "historical"))
		if err != nil {
			t.Fatal(err)
		}
		wantMeta := "{\n  \"source_id\": \"CanESM5\",\n  \"variable_id\": \"tas\"\n}\n"
		if string(meta) != wantMeta {
			t.Errorf("%s: have\n%s\nwant\n%s", run, meta, wantMeta)
		}
	}
}

func TestPipelineFixedRun(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive")
	writeRun(t, archive, "CNRM-CM6-1", "abrupt-4xCO2", "r1i1p1f2", 12, 12, Variables...)
	writeRun(t, archive, "CNRM-CM6-1", "abrupt-4xCO2", "r2i1p1f2", 12, 12, Variables...)
	p := newTestPipeline(t, dir, "abrupt-4xCO2", "CNRM-CM6-1")
	sel, err := p.Select(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sel.Pairs, []Pair{{"CNRM-CM6-1", "r1i1p1f2"}}) {
		t.Errorf("have pairs %v", sel.Pairs)
	}
}

func TestPipelineMissingRunVariable(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive")
	// Every variable exists in some run, but r2 has no rsut.
	writeRun(t, archive, "CanESM5", "hist-nat", "r1i1p1f1", 12, 12, Variables...)
	writeRun(t, archive, "CanESM5", "hist-nat", "r2i1p1f1", 12, 12, "rsdt", "rlut", "tas")
	p := newTestPipeline(t, dir, "hist-nat", "CanESM5")
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Counts[Success] != 1 || sum.Counts[SkippedMissingData] != 1 {
		t.Errorf("have outcomes %+v", sum.Outcomes)
	}
	ok, novars := sum.stateChanges()
	if !reflect.DeepEqual(ok, []string{"CanESM5"}) || len(novars) != 0 {
		t.Errorf("state changes: %v %v", ok, novars)
	}
}

func TestPipelineCancelled(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, filepath.Join(dir, "archive"), "CanESM5", "piControl", "r1i1p1f1", 12, 12, Variables...)
	p := newTestPipeline(t, dir, "piControl", "CanESM5")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx); err != context.Canceled {
		t.Errorf("have %v, want %v", err, context.Canceled)
	}
	if _, err := os.Stat(p.Writer.CSVPath("CanESM5", "r1i1p1f1", "piControl")); !os.IsNotExist(err) {
		t.Error("a cancelled run wrote output")
	}
}
