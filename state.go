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
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
)

// ExperimentState records which models need not be attempted again for
// one experiment.
type ExperimentState struct {
	// Successful models have been processed.
	Successful []string `toml:"successful"`

	// NoVarsFound models are missing files for at least one variable.
	NoVarsFound []string `toml:"novarsfound"`
}

// Excluded reports whether model is in either list.
func (e ExperimentState) Excluded(model string) bool {
	return contains(e.Successful, model) || contains(e.NoVarsFound, model)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func addSorted(list []string, names ...string) []string {
	for _, n := range names {
		if !contains(list, n) {
			list = append(list, n)
		}
	}
	sort.Strings(list)
	return list
}

func remove(list []string, s string) []string {
	o := list[:0]
	for _, v := range list {
		if v != s {
			o = append(o, v)
		}
	}
	return o
}

// State is the persisted processing state of each experiment.
type State struct {
	Experiments map[string]ExperimentState `toml:"experiments"`
}

// LoadState reads the state file at path. A missing file gives an empty
// state.
func LoadState(fs afero.Fs, path string) (*State, error) {
	s := &State{Experiments: make(map[string]ExperimentState)}
	f, err := fs.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	} else if err != nil {
		return nil, fmt.Errorf("ebudget: opening state file: %v", err)
	}
	defer f.Close()
	if _, err := toml.DecodeReader(f, s); err != nil {
		return nil, fmt.Errorf("ebudget: decoding state file %s: %v", path, err)
	}
	if s.Experiments == nil {
		s.Experiments = make(map[string]ExperimentState)
	}
	return s, nil
}

// Save writes s to path, replacing any existing file.
func (s *State) Save(fs afero.Fs, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("ebudget: encoding state: %v", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("ebudget: creating state directory: %v", err)
	}
	if err := writeAtomic(fs, pendingFile{path: path, data: buf.Bytes()}); err != nil {
		return fmt.Errorf("ebudget: saving state: %v", err)
	}
	return nil
}

// For returns the state of experiment.
func (s *State) For(experiment string) ExperimentState {
	return s.Experiments[experiment]
}

// Validate removes models that are not in reg from the state of
// experiment and returns them.
func (s *State) Validate(experiment string, reg *Registry) []string {
	e := s.Experiments[experiment]
	var stale []string
	for _, list := range [][]string{e.Successful, e.NoVarsFound} {
		for _, m := range list {
			if _, ok := reg.Lookup(m); !ok && !contains(stale, m) {
				stale = append(stale, m)
			}
		}
	}
	for _, m := range stale {
		e.Successful = remove(e.Successful, m)
		e.NoVarsFound = remove(e.NoVarsFound, m)
	}
	if _, ok := s.Experiments[experiment]; ok {
		s.Experiments[experiment] = e
	}
	sort.Strings(stale)
	return stale
}

// Record adds models to the lists of experiment. A model that succeeds
// is removed from NoVarsFound.
func (s *State) Record(experiment string, successful, noVarsFound []string) {
	e := s.Experiments[experiment]
	e.Successful = addSorted(e.Successful, successful...)
	e.NoVarsFound = addSorted(e.NoVarsFound, noVarsFound...)
	for _, m := range successful {
		e.NoVarsFound = remove(e.NoVarsFound, m)
	}
	if e.Successful == nil {
		e.Successful = []string{}
	}
	if e.NoVarsFound == nil {
		e.NoVarsFound = []string{}
	}
	s.Experiments[experiment] = e
}
