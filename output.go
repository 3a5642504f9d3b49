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
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Record is the validated output for one model, run and experiment.
type Record struct {
	Model, Run string
	Experiment Experiment

	// Series holds the annual series of each of Variables.
	Series map[string]*Series

	// Attributes are written only if the experiment tracks them.
	Attributes Attributes
}

// Writer writes records below <Root>/cmip6.
type Writer struct {
	Fs   afero.Fs
	Root string
}

// Dir returns the output directory of a model run.
func (w *Writer) Dir(model, run string) string {
	return filepath.Join(w.Root, "cmip6", model, run)
}

// CSVPath returns the path of the table for a model run and experiment.
func (w *Writer) CSVPath(model, run, experiment string) string {
	return filepath.Join(w.Dir(model, run), experiment+".csv")
}

// MetaPath returns the path of the global attributes for a model run
// and experiment.
func (w *Writer) MetaPath(model, run, experiment string) string {
	return filepath.Join(w.Dir(model, run), "meta_"+experiment+".json")
}

// SummaryPath returns the path of the run summary of experiment.
func (w *Writer) SummaryPath(experiment string) string {
	return filepath.Join(w.Root, "cmip6", "summary_"+experiment+".json")
}

// Write writes the CSV table of rec and, if the experiment tracks them,
// its global attributes. Existing files are replaced. Either all files
// are written or none are.
func (w *Writer) Write(rec *Record) error {
	table, err := EncodeCSV(rec.Series)
	if err != nil {
		return err
	}
	files := []pendingFile{{path: w.CSVPath(rec.Model, rec.Run, rec.Experiment.Name), data: table}}
	if rec.Experiment.TrackAttributes {
		meta, err := EncodeAttributes(rec.Attributes)
		if err != nil {
			return err
		}
		files = append(files, pendingFile{path: w.MetaPath(rec.Model, rec.Run, rec.Experiment.Name), data: meta})
	}
	if err := w.Fs.MkdirAll(w.Dir(rec.Model, rec.Run), os.ModePerm); err != nil {
		return fmt.Errorf("ebudget: creating output directory: %v", err)
	}
	if err := writeAtomic(w.Fs, files...); err != nil {
		return fmt.Errorf("ebudget: writing output for %s, %s: %v", rec.Model, rec.Run, err)
	}
	return nil
}

// WriteSummary writes sum as JSON.
func (w *Writer) WriteSummary(sum *Summary) error {
	b, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("ebudget: encoding summary: %v", err)
	}
	path := w.SummaryPath(sum.Experiment)
	if err := w.Fs.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("ebudget: creating output directory: %v", err)
	}
	return writeAtomic(w.Fs, pendingFile{path: path, data: append(b, '\n')})
}

// EncodeCSV returns the table with columns time, rsdt, rsut, rlut and
// tas. Values are written in the shortest form that reads back exactly.
func EncodeCSV(series map[string]*Series) ([]byte, error) {
	if err := CheckConsistency(series); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(append([]string{"time"}, Variables...)); err != nil {
		return nil, err
	}
	ref := series[ReferenceVariable]
	row := make([]string, len(Variables)+1)
	for i, p := range ref.Points {
		row[0] = p.Label
		for j, v := range Variables {
			row[j+1] = strconv.FormatFloat(series[v].Points[i].Value, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// maxExactInt is the largest integer magnitude that a JSON reader using
// 64-bit floats reads exactly.
const maxExactInt = 1 << 53

// EncodeAttributes returns attrs as a JSON object with sorted keys.
func EncodeAttributes(attrs Attributes) ([]byte, error) {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = portable(v)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ebudget: encoding attributes: %v", err)
	}
	return append(b, '\n'), nil
}

// portable converts an attribute value to a value that JSON represents
// without loss: single-element slices become scalars, integers too
// large for a float64 and non-finite floats become strings, and bytes
// become (signed) integers.
func portable(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return strings.TrimRight(x, "\x00")
	case []uint8:
		vals := make([]interface{}, len(x))
		for i, b := range x {
			vals[i] = int64(int8(b))
		}
		return unwrap(vals)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		vals := make([]interface{}, rv.Len())
		for i := range vals {
			vals[i] = portable(rv.Index(i).Interface())
		}
		return unwrap(vals)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return portableInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > maxExactInt {
			return strconv.FormatUint(u, 10)
		}
		return int64(u)
	case reflect.Float32:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return json.Number(strconv.FormatFloat(f, 'g', -1, 32))
	case reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return f
	case reflect.Bool:
		return rv.Bool()
	}
	return fmt.Sprint(v)
}

func portableInt(i int64) interface{} {
	if i > maxExactInt || i < -maxExactInt {
		return strconv.FormatInt(i, 10)
	}
	return i
}

func unwrap(vals []interface{}) interface{} {
	if len(vals) == 1 {
		return vals[0]
	}
	return vals
}

type pendingFile struct {
	path string
	data []byte
}

// writeAtomic writes each file to a temporary file in its directory and
// then renames the temporary files into place. If any step fails, the
// targets are left as they were before the call and no temporary files
// remain.
func writeAtomic(fs afero.Fs, files ...pendingFile) error {
	temps := make([]string, 0, len(files))
	cleanup := func() {
		for _, t := range temps {
			fs.Remove(t)
		}
	}
	for _, pf := range files {
		f, err := afero.TempFile(fs, filepath.Dir(pf.path), "."+filepath.Base(pf.path)+".")
		if err != nil {
			cleanup()
			return err
		}
		temps = append(temps, f.Name())
		if _, err := f.Write(pf.data); err != nil {
			f.Close()
			cleanup()
			return err
		}
		if err := f.Close(); err != nil {
			cleanup()
			return err
		}
	}

	// backups[i] holds the previous content of files[i], if it existed.
	backups := make([]string, len(files))
	renamed := 0
	rollback := func() {
		for i := renamed - 1; i >= 0; i-- {
			fs.Remove(files[i].path)
		}
		for i, b := range backups {
			if b != "" {
				fs.Rename(b, files[i].path)
			}
		}
		cleanup()
	}
	for i, pf := range files {
		exists, err := afero.Exists(fs, pf.path)
		if err != nil {
			rollback()
			return err
		}
		if exists {
			backups[i] = temps[i] + ".old"
			if err := fs.Rename(pf.path, backups[i]); err != nil {
				backups[i] = ""
				rollback()
				return err
			}
		}
		if err := fs.Rename(temps[i], pf.path); err != nil {
			rollback()
			return err
		}
		renamed++
	}
	for _, b := range backups {
		if b != "" {
			fs.Remove(b)
		}
	}
	return nil
}
