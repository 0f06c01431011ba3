package tissue

// logEntry pairs a resolved source with the destination sequence the
// caller wants it appended to (the "ordered mapping from log key to a
// host-side appendable sequence of floats" from §3).
type logEntry struct {
	key    string
	source boundSource
	dest   *[]float64
}

// logRegistry is C8: it binds every user-supplied key to a typed source at
// Init (unknown keys fail fast, §4.8) and knows, from that binding set,
// whether the integrator needs to read back idiff and/or state at each
// logging boundary.
type logRegistry struct {
	entries []logEntry

	loggingDiffusion bool
	loggingStates    bool
}

// newLogRegistry parses every key in keys against bindings and nx/ny,
// returning a Configuration error on the first unknown or malformed key.
// dests must contain exactly the same key set as keys and own the
// caller-provided destination slices (§6 item 10: "appendable sequence").
func newLogRegistry(keys []string, dests map[string]*[]float64, bindings map[string]VarBinding, nx, ny int) (*logRegistry, error) {
	r := &logRegistry{}

	for _, key := range keys {
		src, err := parseLogKey(key, bindings, nx, ny)
		if err != nil {
			return nil, err
		}
		dest, ok := dests[key]
		if !ok {
			return nil, &ConfigError{Msg: "log key " + key + " has no destination sequence"}
		}

		r.entries = append(r.entries, logEntry{key: key, source: src, dest: dest})

		switch src.binding.Kind {
		case sourceIdiff:
			r.loggingDiffusion = true
		case sourceState:
			r.loggingStates = true
		}
	}

	return r, nil
}

// empty reports whether the registry has no entries — §4.8's "empty
// registry" suppression condition.
func (r *logRegistry) empty() bool { return len(r.entries) == 0 }

// append writes the current value of every bound source into its
// destination sequence. scalars (time, pace, dt) are passed in directly;
// per-cell sources read from the state and idiff snapshots, which the caller
// must have already refreshed via readState/readIdiff according to
// loggingStates/loggingDiffusion.
func (r *logRegistry) append(time, pace, dt float64, state, idiff []float64, states int) {
	for _, e := range r.entries {
		var v float64
		switch e.source.binding.Kind {
		case sourceTime:
			v = time
		case sourcePace:
			v = pace
		case sourceDt:
			v = dt
		case sourceState:
			v = state[e.source.cell*states+e.source.binding.Slot]
		case sourceIdiff:
			v = idiff[e.source.cell]
		}
		*e.dest = append(*e.dest, v)
	}
}
