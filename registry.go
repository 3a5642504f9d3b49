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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Model is a registry entry.
type Model struct {
	Name string

	// Run is the preferred run identifier, if any.
	Run string
}

// Registry is the set of models to attempt, sorted by name.
type Registry struct {
	Models []Model
}

// NewRegistry returns a registry of the given models, de-duplicated and
// sorted. Where a name is repeated, the first entry with a run is kept.
func NewRegistry(models ...Model) *Registry {
	byName := make(map[string]Model)
	for _, m := range models {
		if m.Name == "" {
			continue
		}
		if old, ok := byName[m.Name]; !ok || old.Run == "" {
			byName[m.Name] = m
		}
	}
	r := &Registry{Models: make([]Model, 0, len(byName))}
	for _, m := range byName {
		r.Models = append(r.Models, m)
	}
	sort.Slice(r.Models, func(i, j int) bool { return r.Models[i].Name < r.Models[j].Name })
	return r
}

// StaticRegistry returns a registry of the named models.
func StaticRegistry(names []string) *Registry {
	models := make([]Model, len(names))
	for i, n := range names {
		models[i] = Model{Name: n}
	}
	return NewRegistry(models...)
}

// LoadRegistry reads the registry at the dotted key from the JSON
// file at path.
func LoadRegistry(fs afero.Fs, path, key string) (*Registry, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ebudget: opening model registry: %v", err)
	}
	defer f.Close()
	r, err := ParseRegistry(f, key)
	if err != nil {
		return nil, fmt.Errorf("ebudget: model registry %s: %v", path, err)
	}
	return r, nil
}

// ParseRegistry reads the models at the dotted key, such as
// "cmip6.models", from JSON. The value at the key is either a list of
// model names or an object keyed by model name, whose values may give a
// preferred run as {"run": "r1i1p1f1"}.
func ParseRegistry(r io.Reader, key string) (*Registry, error) {
	var doc interface{}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding JSON: %v", err)
	}
	node := doc
	if key != "" {
		for _, k := range strings.Split(key, ".") {
			obj, ok := node.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("key %q: %q is not within an object", key, k)
			}
			if node, ok = obj[k]; !ok {
				return nil, fmt.Errorf("key %q not found", key)
			}
		}
	}
	var models []Model
	switch n := node.(type) {
	case []interface{}:
		for _, v := range n {
			name, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("key %q: model list entry %v is not a string", key, v)
			}
			models = append(models, Model{Name: name})
		}
	case map[string]interface{}:
		for name, v := range n {
			m := Model{Name: name}
			if obj, ok := v.(map[string]interface{}); ok {
				m.Run, _ = obj["run"].(string)
			}
			models = append(models, m)
		}
	default:
		return nil, fmt.Errorf("key %q does not hold a list or object of models", key)
	}
	return NewRegistry(models...), nil
}

// Names returns the model names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.Models))
	for i, m := range r.Models {
		names[i] = m.Name
	}
	return names
}

// Lookup returns the entry for the named model.
func (r *Registry) Lookup(name string) (Model, bool) {
	i := sort.Search(len(r.Models), func(i int) bool { return r.Models[i].Name >= name })
	if i < len(r.Models) && r.Models[i].Name == name {
		return r.Models[i], true
	}
	return Model{}, false
}
