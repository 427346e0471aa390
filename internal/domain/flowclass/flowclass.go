// Package flowclass maps the four flow classifications to the rheological
// coefficients handed to the engine in single-phase runs.
package flowclass

import (
	"fmt"
	"strconv"
	"strings"
)

// Class enumerates the supported flow classifications.
type Class int

const (
	Streamflow Class = iota + 1
	Hyperconcentrated
	DebrisFlood
	DebrisFlow
)

// Params are the calibrated coefficients for one class. Angles are degrees;
// TurbulentFriction is the log10 of the turbulent friction coefficient.
type Params struct {
	Density           float64
	InternalFriction  float64
	BasalFriction     float64
	TurbulentFriction float64
}

type entry struct {
	name   string
	params Params
}

// table is the complete set of classes. Adding a class is a new row here.
var table = map[Class]entry{
	Streamflow:        {"streamflow", Params{Density: 1000, InternalFriction: 0, BasalFriction: 0, TurbulentFriction: -3.5}},
	Hyperconcentrated: {"hyperconcentrated", Params{Density: 1400, InternalFriction: 10, BasalFriction: 2, TurbulentFriction: -3.0}},
	DebrisFlood:       {"debris_flood", Params{Density: 1700, InternalFriction: 20, BasalFriction: 6, TurbulentFriction: -2.5}},
	DebrisFlow:        {"debris_flow", Params{Density: 2000, InternalFriction: 35, BasalFriction: 12, TurbulentFriction: -2.0}},
}

// Classes returns every class in ascending order.
func Classes() []Class {
	return []Class{Streamflow, Hyperconcentrated, DebrisFlood, DebrisFlow}
}

// Valid reports whether c is in the table.
func (c Class) Valid() bool {
	_, ok := table[c]
	return ok
}

func (c Class) String() string {
	if e, ok := table[c]; ok {
		return e.name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Resolve returns the coefficients for c. It never falls back to a default.
func Resolve(c Class) (Params, error) {
	e, ok := table[c]
	if !ok {
		return Params{}, fmt.Errorf("%w: %d", ErrInvalidFlowClass, int(c))
	}
	return e.params, nil
}

// Parse accepts a class number ("1".."4") or a name such as "debris_flow"
// or "debris-flow".
func Parse(s string) (Class, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(key); err == nil {
		c := Class(n)
		if !c.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidFlowClass, n)
		}
		return c, nil
	}
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	for c, e := range table {
		if e.name == key {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFlowClass, s)
}
