package tissue

import (
	"strconv"
	"strings"
)

// sourceKind identifies what a parsed log key ultimately reads from.
type sourceKind int

const (
	sourceTime sourceKind = iota
	sourcePace
	sourceDt
	sourceState
	sourceIdiff
)

// VarBinding names what "{component}.{var}" refers to: one of the three
// scalars, the per-cell diffusion current, or a slot in the per-cell state
// vector. The caller supplies this table (it is model-specific knowledge
// the out-of-scope code generator owns) alongside the kernel source text
// and ModelDescriptor.
type VarBinding struct {
	Kind sourceKind
	Slot int // meaningful only when Kind == sourceState
}

// boundSource is a fully resolved log-key binding: a VarBinding plus, for
// per-cell keys, the concrete cell index.
type boundSource struct {
	binding VarBinding
	cell    int // meaningful only for sourceState/sourceIdiff
}

// parseLogKey implements §6's log key grammar:
//
//	{component}.{var}              scalar binding (time, pace, time_step)
//	{x}.{component}.{var}          per-cell, 1-D grid (ny == 1)
//	{x}.{y}.{component}.{var}      per-cell, 2-D grid
//
// An unrecognized shape, an out-of-range coordinate, or a qualified name
// absent from bindings is a Configuration error (unknown keys are rejected
// at Init, per §4.8/§7).
func parseLogKey(key string, bindings map[string]VarBinding, nx, ny int) (boundSource, error) {
	parts := strings.Split(key, ".")

	switch len(parts) {
	case 2:
		b, ok := bindings[key]
		if !ok {
			return boundSource{}, &ConfigError{Msg: "unknown log key " + strconv.Quote(key)}
		}
		if b.Kind == sourceState || b.Kind == sourceIdiff {
			return boundSource{}, &ConfigError{Msg: "log key " + strconv.Quote(key) + " names a per-cell quantity but has no cell coordinate"}
		}
		return boundSource{binding: b}, nil

	case 3:
		if ny != 1 {
			return boundSource{}, &ConfigError{Msg: "log key " + strconv.Quote(key) + " uses 1-D coordinate syntax on a grid with ny>1"}
		}
		x, err := strconv.Atoi(parts[0])
		if err != nil || x < 0 || x >= nx {
			return boundSource{}, &ConfigError{Msg: "log key " + strconv.Quote(key) + " has an out-of-range x coordinate"}
		}
		qualified := parts[1] + "." + parts[2]
		b, ok := bindings[qualified]
		if !ok {
			return boundSource{}, &ConfigError{Msg: "unknown log key " + strconv.Quote(key)}
		}
		if b.Kind != sourceState && b.Kind != sourceIdiff {
			return boundSource{}, &ConfigError{Msg: "log key " + strconv.Quote(key) + " names a scalar quantity but has a cell coordinate"}
		}
		return boundSource{binding: b, cell: x}, nil

	case 4:
		if ny == 1 {
			return boundSource{}, &ConfigError{Msg: "log key " + strconv.Quote(key) + " uses 2-D coordinate syntax on a grid with ny==1"}
		}
		x, errX := strconv.Atoi(parts[0])
		y, errY := strconv.Atoi(parts[1])
		if errX != nil || errY != nil || x < 0 || x >= nx || y < 0 || y >= ny {
			return boundSource{}, &ConfigError{Msg: "log key " + strconv.Quote(key) + " has an out-of-range coordinate"}
		}
		qualified := parts[2] + "." + parts[3]
		b, ok := bindings[qualified]
		if !ok {
			return boundSource{}, &ConfigError{Msg: "unknown log key " + strconv.Quote(key)}
		}
		if b.Kind != sourceState && b.Kind != sourceIdiff {
			return boundSource{}, &ConfigError{Msg: "log key " + strconv.Quote(key) + " names a scalar quantity but has a cell coordinate"}
		}
		return boundSource{binding: b, cell: y*nx + x}, nil

	default:
		return boundSource{}, &ConfigError{Msg: "unknown log key " + strconv.Quote(key)}
	}
}
