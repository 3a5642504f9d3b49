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

// Command ebudget is a command-line interface for extracting global-mean
// energy budget time series from CMIP6 model output.
package main

import (
	"os"

	"github.com/spatialmodel/ebudget/ebudgetutil"
)

func main() {
	if err := ebudgetutil.Root.Execute(); err != nil {
		os.Exit(1)
	}
}
