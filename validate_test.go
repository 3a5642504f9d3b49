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
	"testing"
)

func annual(variable string, years ...int) *Series {
	s := &Series{Variable: variable}
	for _, y := range years {
		s.Points = append(s.Points, Point{Year: y, Value: 1})
	}
	return s
}

func TestCheckConsistency(t *testing.T) {
	ok := map[string]*Series{
		"rsdt": annual("rsdt", 1850, 1851),
		"rsut": annual("rsut", 1850, 1851),
		"rlut": annual("rlut", 1850, 1851),
		"tas":  annual("tas", 1850, 1851),
	}
	if err := CheckConsistency(ok); err != nil {
		t.Fatal(err)
	}

	short := map[string]*Series{
		"rsdt": annual("rsdt", 1850, 1851),
		"rsut": annual("rsut", 1850),
		"rlut": annual("rlut", 1850, 1851),
		"tas":  annual("tas", 1850, 1851),
	}
	var lerr *LengthMismatchError
	if err := CheckConsistency(short); !errors.As(err, &lerr) || lerr.Variable != "rsut" || lerr.Length != 1 || lerr.RefLength != 2 {
		t.Errorf("have %v", err)
	} else if Classify(err) != SkippedInconsistent {
		t.Errorf("classified as %v", Classify(err))
	}

	shifted := map[string]*Series{
		"rsdt": annual("rsdt", 1850, 1851),
		"rsut": annual("rsut", 1850, 1851),
		"rlut": annual("rlut", 1851, 1852),
		"tas":  annual("tas", 1850, 1851),
	}
	var yerr *YearMismatchError
	if err := CheckConsistency(shifted); !errors.As(err, &yerr) || yerr.Variable != "rlut" || yerr.Index != 0 {
		t.Errorf("have %v", err)
	}

	delete(ok, "rlut")
	if err := CheckConsistency(ok); err == nil {
		t.Error("expected an error for a missing series")
	}
	delete(ok, "tas")
	if err := CheckConsistency(ok); err == nil {
		t.Error("expected an error without the reference series")
	}
}
