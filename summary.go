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
	"sort"

	"github.com/sirupsen/logrus"
)

// Outcome is the result of processing one (model, run) pair. Run is
// empty for models abandoned before their runs were discovered.
type Outcome struct {
	Model  string `json:"model"`
	Run    string `json:"run,omitempty"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	// Years is the number of annual values written.
	Years int `json:"years,omitempty"`
}

// Summary collects the outcomes of a pipeline run.
type Summary struct {
	Experiment string         `json:"experiment"`
	Outcomes   []Outcome      `json:"outcomes"`
	Counts     map[Status]int `json:"counts"`
}

// finish sorts the outcomes by model and run and counts them.
func (s *Summary) finish() {
	sort.SliceStable(s.Outcomes, func(i, j int) bool {
		a, b := s.Outcomes[i], s.Outcomes[j]
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.Run < b.Run
	})
	s.Counts = map[Status]int{
		Success:             0,
		SkippedMissingData:  0,
		SkippedInconsistent: 0,
		FailedUnexpected:    0,
	}
	for _, o := range s.Outcomes {
		s.Counts[o.Status]++
	}
}

// Err returns ErrPairsFailed if any pair failed unexpectedly.
func (s *Summary) Err() error {
	if s.Counts[FailedUnexpected] > 0 {
		return ErrPairsFailed
	}
	return nil
}

// Log writes the counts of s to log.
func (s *Summary) Log(log logrus.FieldLogger) {
	fields := logrus.Fields{"experiment": s.Experiment}
	for st, n := range s.Counts {
		fields[string(st)] = n
	}
	log.WithFields(fields).Info("run summary")
}

// stateChanges returns the models that have succeeded, meaning at least
// one run succeeded and none failed unexpectedly, and the models for
// which no files were found.
func (s *Summary) stateChanges() (successful, noVarsFound []string) {
	ok := make(map[string]bool)
	failed := make(map[string]bool)
	for _, o := range s.Outcomes {
		switch {
		case o.Status == Success:
			ok[o.Model] = true
		case o.Status == FailedUnexpected:
			failed[o.Model] = true
		case o.Status == SkippedMissingData && o.Run == "":
			noVarsFound = append(noVarsFound, o.Model)
		}
	}
	for m := range ok {
		if !failed[m] {
			successful = append(successful, m)
		}
	}
	sort.Strings(successful)
	sort.Strings(noVarsFound)
	return successful, noVarsFound
}
