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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spatialmodel/ebudget"
)

// configure points Cfg at an archive, input and output directory
// below dir.
func configure(t *testing.T, dir string) {
	t.Helper()
	Cfg.Set("ArchiveRoot", filepath.Join(dir, "archive"))
	Cfg.Set("InputRoot", filepath.Join(dir, "input"))
	Cfg.Set("OutputRoot", filepath.Join(dir, "output"))
	Cfg.Set("RegistryFile", "")
	Cfg.Set("RegistryKey", "")
	Cfg.Set("Models", []string{})
	Cfg.Set("RunIDs", "{}")
	Cfg.Set("StateFile", "")
	Cfg.Set("Workers", 1)
	Cfg.Set("reprocess", false)
	Cfg.Set("LogLevel", "error")
	Cfg.Set("LogFile", "")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// archiveFiles creates placeholder archive files for the given
// variables of a model run.
func archiveFiles(t *testing.T, dir, model, experiment, run string, variables ...string) {
	t.Helper()
	for _, v := range variables {
		writeFile(t, filepath.Join(dir, "archive", model, experiment, run, "Amon", v, "gn", v+".nc"), "not netcdf")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	Root.SetOutput(&buf)
	Root.SetArgs(args)
	err := Root.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "ebudget v"+ebudget.Version) {
		t.Errorf("have %q", out)
	}
}

func TestSelect(t *testing.T) {
	dir := t.TempDir()
	configure(t, dir)
	writeFile(t, filepath.Join(dir, "input", "cmip56_forcing_feedback_ecs.json"), `{"CMIP6": ["MIROC6", "CanESM5"]}`)
	archiveFiles(t, dir, "CanESM5", "piControl", "r1i1p1f1", ebudget.Variables...)
	archiveFiles(t, dir, "CanESM5", "piControl", "r2i1p1f1", ebudget.Variables...)
	archiveFiles(t, dir, "MIROC6", "piControl", "r1i1p1f1", "tas")

	out, err := execute(t, "select", "piControl")
	if err != nil {
		t.Fatal(err)
	}
	want := "CanESM5\tr1i1p1f1\nCanESM5\tr2i1p1f1\nmissing variables: MIROC6\n"
	if out != want {
		t.Errorf("have %q, want %q", out, want)
	}

	Cfg.Set("RunIDs", `{"CanESM5": "r2i1p1f1"}`)
	out, err = execute(t, "select", "piControl")
	if err != nil {
		t.Fatal(err)
	}
	if want := "CanESM5\tr2i1p1f1\nmissing variables: MIROC6\n"; out != want {
		t.Errorf("fixed run: have %q, want %q", out, want)
	}

	if _, err := os.Stat(filepath.Join(dir, "output")); !os.IsNotExist(err) {
		t.Error("select wrote output")
	}
	if _, err := execute(t, "select", "amip"); err == nil {
		t.Error("expected an error for an unknown experiment")
	}
}

func TestRunAndState(t *testing.T) {
	dir := t.TempDir()
	configure(t, dir)
	registry := filepath.Join(dir, "input", "cmip56_forcing_feedback_ecs.json")
	writeFile(t, registry, `{"CMIP6": ["MIROC6"]}`)
	archiveFiles(t, dir, "MIROC6", "piControl", "r1i1p1f1", "tas", "rsdt")

	out, err := execute(t, "run", "piControl")
	if err != nil {
		t.Fatal(err)
	}
	summary := filepath.Join(dir, "output", "cmip6", "summary_piControl.json")
	if !strings.Contains(out, summary) {
		t.Errorf("have %q", out)
	}
	if _, err := os.Stat(summary); err != nil {
		t.Error(err)
	}

	out, err = execute(t, "state", "piControl")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[piControl]") || !strings.Contains(out, `novarsfound = ["MIROC6"]`) {
		t.Errorf("have\n%s", out)
	}

	// Models that leave the registry are not shown, but the file is kept.
	writeFile(t, registry, `{"CMIP6": ["CanESM5"]}`)
	out, err = execute(t, "state", "piControl")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "MIROC6") {
		t.Errorf("have\n%s", out)
	}
	b, err := os.ReadFile(filepath.Join(dir, "output", "cmip6", "state.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "MIROC6") {
		t.Errorf("state printed the state file changed:\n%s", b)
	}
}

func TestRunFailure(t *testing.T) {
	dir := t.TempDir()
	configure(t, dir)
	Cfg.Set("Models", []string{"CanESM5"})
	Cfg.Set("StateFile", filepath.Join(dir, "state.toml"))
	archiveFiles(t, dir, "CanESM5", "piControl", "r1i1p1f1", ebudget.Variables...)

	_, err := execute(t, "run", "piControl")
	if !errors.Is(err, ebudget.ErrPairsFailed) {
		t.Fatalf("have %v, want %v", err, ebudget.ErrPairsFailed)
	}
	b, err := os.ReadFile(filepath.Join(dir, "output", "cmip6", "summary_piControl.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"failed-unexpected": 1`) {
		t.Errorf("have\n%s", b)
	}
	b, err = os.ReadFile(filepath.Join(dir, "state.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "CanESM5") {
		t.Errorf("a failed model was recorded:\n%s", b)
	}
}

func TestRunMissingRegistry(t *testing.T) {
	dir := t.TempDir()
	configure(t, dir)
	if _, err := execute(t, "run", "hist-nat"); err == nil {
		t.Error("expected an error for a missing registry file")
	}
}
