// Package taxonomy holds the dated OWASP Top 10 category tables used to
// populate the category filter, and decides whether a selected category
// code survives a switch to another version.
package taxonomy

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownVersion is returned when a version key has no registered table.
var ErrUnknownVersion = errors.New("unknown taxonomy version")

// DefaultVersion is the version selected when none is configured.
const DefaultVersion = "2021"

// Category is one code of a version table, e.g. {"A03", "A03: Injection"}.
type Category struct {
	Code  string `yaml:"code"`
	Label string `yaml:"label"`
}

// Option is one entry of a category selector. The first option returned by
// OptionsFor is always AllCategories.
type Option struct {
	Code  string
	Label string
}

// AllCategories is the sentinel option meaning "no category constraint".
var AllCategories = Option{Code: "", Label: "All categories"}

// Version is a named, ordered category table.
type Version struct {
	Key        string     `yaml:"version"`
	Categories []Category `yaml:"categories"`
}

// Registry maps version keys to category tables. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	tables map[string]table
}

type table struct {
	order  []Category
	byCode map[string]string
}

// New builds a registry from versions. A later version with the same key
// replaces an earlier one; duplicate codes within a version keep their first
// position and last label.
func New(versions ...Version) (*Registry, error) {
	r := &Registry{tables: make(map[string]table, len(versions))}
	for _, v := range versions {
		if v.Key == "" {
			return nil, errors.New("taxonomy version key is required")
		}
		t := table{byCode: make(map[string]string, len(v.Categories))}
		for _, c := range v.Categories {
			if c.Code == "" {
				return nil, fmt.Errorf("taxonomy %s: category code is required", v.Key)
			}
			if _, dup := t.byCode[c.Code]; !dup {
				t.order = append(t.order, c)
			} else {
				for i := range t.order {
					if t.order[i].Code == c.Code {
						t.order[i].Label = c.Label
					}
				}
			}
			t.byCode[c.Code] = c.Label
		}
		r.tables[v.Key] = t
	}
	return r, nil
}

// Default returns a registry with the built-in 2017, 2021 and 2025 tables.
func Default() *Registry {
	r, err := New(Builtin()...)
	if err != nil {
		panic("unreachable: builtin taxonomy tables are valid: " + err.Error())
	}
	return r
}

// Versions returns the registered version keys, sorted.
func (r *Registry) Versions() []string {
	out := make([]string, 0, len(r.tables))
	for k := range r.tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Has reports whether version is registered.
func (r *Registry) Has(version string) bool {
	_, ok := r.tables[version]
	return ok
}

func (r *Registry) lookup(version string) (table, error) {
	t, ok := r.tables[version]
	if !ok {
		return table{}, fmt.Errorf("%w %q", ErrUnknownVersion, version)
	}
	return t, nil
}

// OptionsFor returns the selector options for version: AllCategories
// followed by the version's categories in table order.
func (r *Registry) OptionsFor(version string) ([]Option, error) {
	t, err := r.lookup(version)
	if err != nil {
		return nil, err
	}
	out := make([]Option, 0, len(t.order)+1)
	out = append(out, AllCategories)
	for _, c := range t.order {
		out = append(out, Option{Code: c.Code, Label: c.Label})
	}
	return out, nil
}

// Label returns the label of code in version, and whether the code exists.
func (r *Registry) Label(version, code string) (string, bool, error) {
	t, err := r.lookup(version)
	if err != nil {
		return "", false, err
	}
	l, ok := t.byCode[code]
	return l, ok, nil
}

// ReconcileSelection returns previousCode when newVersion has a category with
// that code, otherwise "" (selection cleared). Only code existence counts:
// a code whose label changed between versions is kept.
func (r *Registry) ReconcileSelection(previousCode, newVersion string) (string, error) {
	t, err := r.lookup(newVersion)
	if err != nil {
		return "", err
	}
	if previousCode == "" {
		return "", nil
	}
	if _, ok := t.byCode[previousCode]; ok {
		return previousCode, nil
	}
	return "", nil
}
