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
	"errors"
	"fmt"
)

// MissingDataError is returned when no archive files exist for a
// required variable.
type MissingDataError struct {
	Model, Run, Variable string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("ebudget: no %s files found for %s, %s", e.Variable, e.Model, e.Run)
}

// LengthMismatchError is returned when a variable has a different
// number of annual values than the reference variable.
type LengthMismatchError struct {
	Variable  string
	Length    int
	RefLength int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("ebudget: length of %s (%d) did not match %s (%d)",
		e.Variable, e.Length, ReferenceVariable, e.RefLength)
}

// YearMismatchError is returned when a variable covers different years
// than the reference variable.
type YearMismatchError struct {
	Variable string
	Index    int
	Year     int
	RefYear  int
}

func (e *YearMismatchError) Error() string {
	return fmt.Sprintf("ebudget: year %d of %s at index %d did not match %s year %d",
		e.Year, e.Variable, e.Index, ReferenceVariable, e.RefYear)
}

// ConcatError is returned when the files of a variable cannot be joined
// into a single contiguous time series.
type ConcatError struct {
	Variable string
	Reason   string
}

func (e *ConcatError) Error() string {
	if e.Variable == "" {
		return "ebudget: cannot concatenate: " + e.Reason
	}
	return fmt.Sprintf("ebudget: cannot concatenate %s: %s", e.Variable, e.Reason)
}

// ErrPairsFailed is returned by a run in which at least one (model, run)
// pair failed unexpectedly.
var ErrPairsFailed = errors.New("ebudget: one or more model runs failed")

// Status is the outcome of processing one (model, run) pair.
type Status string

// The possible statuses.
const (
	Success             Status = "success"
	SkippedMissingData  Status = "skipped-missing-data"
	SkippedInconsistent Status = "skipped-inconsistent"
	FailedUnexpected    Status = "failed-unexpected"
)

// Classify returns the status corresponding to err.
func Classify(err error) Status {
	if err == nil {
		return Success
	}
	var missing *MissingDataError
	var length *LengthMismatchError
	var year *YearMismatchError
	var concat *ConcatError
	switch {
	case errors.As(err, &missing):
		return SkippedMissingData
	case errors.As(err, &length), errors.As(err, &year), errors.As(err, &concat):
		return SkippedInconsistent
	}
	return FailedUnexpected
}
