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

import "fmt"

// CheckConsistency returns an error unless every variable in Variables
// has a series with the same number of points and the same years as the
// reference variable.
func CheckConsistency(series map[string]*Series) error {
	ref, ok := series[ReferenceVariable]
	if !ok {
		return fmt.Errorf("ebudget: no %s series", ReferenceVariable)
	}
	refYears := ref.Years()
	for _, v := range Variables {
		s, ok := series[v]
		if !ok {
			return fmt.Errorf("ebudget: no %s series", v)
		}
		if len(s.Points) != len(refYears) {
			return &LengthMismatchError{Variable: v, Length: len(s.Points), RefLength: len(refYears)}
		}
		for i, y := range s.Years() {
			if y != refYears[i] {
				return &YearMismatchError{Variable: v, Index: i, Year: y, RefYear: refYears[i]}
			}
		}
	}
	return nil
}
