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
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pair is a model run to process.
type Pair struct {
	Model, Run string
}

// Selection is the result of choosing what to process.
type Selection struct {
	Pairs []Pair

	// Excluded models were skipped because of their recorded state.
	Excluded []string

	// NoVarsFound models have no files for at least one variable.
	NoVarsFound []string
}

// Pipeline extracts the annual global means of one experiment.
type Pipeline struct {
	Experiment Experiment
	Registry   *Registry

	// State, if not nil, excludes models that have already been
	// processed and is updated at the end of a run. It is saved to
	// StateFile if that is set.
	State     *State
	StateFile string

	Locator *Locator
	Loader  *Loader
	Writer  *Writer
	Patches PatchTable

	// Workers is the number of model runs processed at once.
	Workers int

	DropPartialYears bool

	// Reprocess ignores the exclusions in State.
	Reprocess bool

	Log logrus.FieldLogger
}

func (p *Pipeline) log() logrus.FieldLogger {
	l := p.Log
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("experiment", p.Experiment.Name)
}

// Select returns the model runs to process. A model is skipped if it is
// excluded by the state or if any variable has no files in any run. The
// runs of a model are its fixed run, if it has one, or otherwise every
// run with files for the reference variable.
func (p *Pipeline) Select(ctx context.Context) (*Selection, error) {
	log := p.log()
	exp := p.Experiment.Name
	if p.State != nil {
		if stale := p.State.Validate(exp, p.Registry); len(stale) > 0 {
			log.WithField("models", stale).Warn("dropping models from state that are not in the registry")
		}
	}
	sel := new(Selection)
	for _, m := range p.Registry.Models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mlog := log.WithField("model", m.Name)
		if !p.Reprocess && p.State != nil && p.State.For(exp).Excluded(m.Name) {
			mlog.Debug("already processed")
			sel.Excluded = append(sel.Excluded, m.Name)
			continue
		}
		missing := ""
		for _, v := range Variables {
			files, err := p.Locator.Files(m.Name, exp, "*", v)
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				missing = v
				break
			}
		}
		if missing != "" {
			mlog.Warnf("no %s files found", missing)
			sel.NoVarsFound = append(sel.NoVarsFound, m.Name)
			continue
		}
		run := p.runID(m.Name)
		if run == "" {
			run = m.Run
		}
		if run != "" {
			sel.Pairs = append(sel.Pairs, Pair{Model: m.Name, Run: run})
			continue
		}
		runs, err := p.Locator.Runs(m.Name, exp, ReferenceVariable)
		if err != nil {
			return nil, err
		}
		mlog.WithField("runs", runs).Debug("discovered runs")
		for _, r := range runs {
			sel.Pairs = append(sel.Pairs, Pair{Model: m.Name, Run: r})
		}
	}
	return sel, nil
}

// runID returns the fixed run of model, if any. Model names are
// matched without regard to case because configuration keys may have
// been lower-cased.
func (p *Pipeline) runID(model string) string {
	if r, ok := p.Experiment.RunIDs[model]; ok {
		return r
	}
	for m, r := range p.Experiment.RunIDs {
		if strings.EqualFold(m, model) {
			return r
		}
	}
	return ""
}

// LoadVariable reads the files of one variable of model and joins them
// into a single cube.
func (p *Pipeline) LoadVariable(ctx context.Context, model, variable string, files []string) (*Cube, error) {
	cubes, err := p.Loader.Load(ctx, variable, files)
	if err != nil {
		return nil, err
	}
	cubes, err = UnifyTimeUnits(cubes)
	if err != nil {
		return nil, err
	}
	cubes = EqualiseAttributes(cubes)
	cubes = p.Patches.Apply(model, cubes)
	return Concatenate(cubes)
}

// Aggregate returns the annual global mean of c.
func Aggregate(c *Cube, label TimeLabel, dropPartial bool) (*Series, error) {
	c, err := EnsureHorizontalBounds(c)
	if err != nil {
		return nil, err
	}
	w, err := AreaWeights(c)
	if err != nil {
		return nil, err
	}
	means, err := SpatialMean(c, w)
	if err != nil {
		return nil, err
	}
	return AnnualMean(c.Name, c.Time, means, label, dropPartial)
}

// ProcessPair extracts, checks and writes the series of one model run
// and returns the number of years written.
func (p *Pipeline) ProcessPair(ctx context.Context, pair Pair) (int, error) {
	log := p.log().WithFields(logrus.Fields{"model": pair.Model, "run": pair.Run})
	exp := p.Experiment.Name
	series := make(map[string]*Series, len(Variables))
	var attrs Attributes
	for _, v := range Variables {
		files, err := p.Locator.Files(pair.Model, exp, pair.Run, v)
		if err != nil {
			return 0, err
		}
		if len(files) == 0 {
			return 0, &MissingDataError{Model: pair.Model, Run: pair.Run, Variable: v}
		}
		log.WithFields(logrus.Fields{"variable": v, "files": len(files)}).Debug("loading")
		c, err := p.LoadVariable(ctx, pair.Model, v, files)
		if err != nil {
			return 0, fmt.Errorf("ebudget: %s, %s, %s: %w", pair.Model, pair.Run, v, err)
		}
		s, err := Aggregate(c, p.Experiment.Label, p.DropPartialYears)
		if err != nil {
			return 0, fmt.Errorf("ebudget: %s, %s, %s: %w", pair.Model, pair.Run, v, err)
		}
		series[v] = s
		if v == ReferenceVariable {
			attrs = c.Attributes
		}
	}
	if err := CheckConsistency(series); err != nil {
		return 0, fmt.Errorf("ebudget: %s, %s: %w", pair.Model, pair.Run, err)
	}
	rec := &Record{
		Model:      pair.Model,
		Run:        pair.Run,
		Experiment: p.Experiment,
		Series:     series,
		Attributes: attrs,
	}
	if err := p.Writer.Write(rec); err != nil {
		return 0, err
	}
	return len(series[ReferenceVariable].Points), nil
}

// runPair processes pair and records the outcome, recovering from any
// panic.
func (p *Pipeline) runPair(ctx context.Context, pair Pair) (o Outcome) {
	log := p.log().WithFields(logrus.Fields{"model": pair.Model, "run": pair.Run})
	o = Outcome{Model: pair.Model, Run: pair.Run}
	defer func() {
		if r := recover(); r != nil {
			o.Status = FailedUnexpected
			o.Error = fmt.Sprintf("panic: %v", r)
			log.Error(o.Error)
		}
	}()
	log.Info("attempting processing")
	years, err := p.ProcessPair(ctx, pair)
	o.Status = Classify(err)
	switch o.Status {
	case Success:
		o.Years = years
		log.WithField("years", years).Info("successful")
	case FailedUnexpected:
		o.Error = err.Error()
		log.Error(err)
	default:
		o.Error = err.Error()
		log.Warn(err)
	}
	return o
}

// Run selects and processes the model runs of the experiment, writes
// the run summary, and updates the state. The failure of one model run
// does not stop the others; if any failed unexpectedly, the returned
// error is ErrPairsFailed.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	sel, err := p.Select(ctx)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Experiment: p.Experiment.Name, Outcomes: []Outcome{}}
	for _, m := range sel.NoVarsFound {
		sum.Outcomes = append(sum.Outcomes, Outcome{
			Model:  m,
			Status: SkippedMissingData,
			Error:  "no files found for at least one variable",
		})
	}

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	var mu sync.Mutex
	for _, pair := range sel.Pairs {
		if ctx.Err() != nil {
			break
		}
		pair := pair
		g.Go(func() error {
			o := p.runPair(ctx, pair)
			mu.Lock()
			sum.Outcomes = append(sum.Outcomes, o)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	sum.finish()
	sum.Log(p.log())

	if err := p.Writer.WriteSummary(sum); err != nil {
		return sum, err
	}
	if p.State != nil {
		successful, noVarsFound := sum.stateChanges()
		p.State.Record(p.Experiment.Name, successful, noVarsFound)
		if p.StateFile != "" {
			if err := p.State.Save(p.Writer.Fs, p.StateFile); err != nil {
				return sum, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, sum.Err()
}
