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
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Locator finds archive files laid out as
// <Root>/<model>/<experiment>/<run>/Amon/<variable>/<version>/*.<Ext>.
type Locator struct {
	Fs   afero.Fs
	Root string
	Ext  string
}

// Pattern returns the glob pattern for the given file set. Any argument
// may itself be a pattern, such as "*" for all runs.
func (l *Locator) Pattern(model, experiment, run, variable string) string {
	ext := strings.TrimPrefix(l.Ext, ".")
	if ext == "" {
		ext = "nc"
	}
	return filepath.Join(l.Root, model, experiment, run, "Amon", variable, "*", "*."+ext)
}

// Files returns the sorted paths of the files of variable for the given
// model, experiment and run. No matches is not an error.
func (l *Locator) Files(model, experiment, run, variable string) ([]string, error) {
	pattern := l.Pattern(model, experiment, run, variable)
	files, err := afero.Glob(l.Fs, pattern)
	if err != nil {
		return nil, fmt.Errorf("ebudget: locating files with pattern %s: %v", pattern, err)
	}
	sort.Strings(files)
	return files, nil
}

// RunFromPath returns the run identifier of an archive file path.
func (l *Locator) RunFromPath(path string) (string, error) {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return "", fmt.Errorf("ebudget: %s is not in the archive: %v", path, err)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 4 || parts[0] == ".." {
		return "", fmt.Errorf("ebudget: %s is not in the archive", path)
	}
	return parts[2], nil
}

// Runs returns the sorted distinct runs with files for variable.
func (l *Locator) Runs(model, experiment, variable string) ([]string, error) {
	files, err := l.Files(model, experiment, "*", variable)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var runs []string
	for _, f := range files {
		r, err := l.RunFromPath(f)
		if err != nil {
			return nil, err
		}
		if !seen[r] {
			seen[r] = true
			runs = append(runs, r)
		}
	}
	sort.Strings(runs)
	return runs, nil
}
