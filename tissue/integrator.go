package tissue

import (
	"math"
	"os"
	"unsafe"

	"github.com/2lambda123/myokit/device"
	"github.com/2lambda123/myokit/pacing"
)

// Config positionally mirrors the external-interface field list: the
// caller-supplied kernel source text, grid geometry, diffusion gains, time
// bounds, the step-size chooser's bounds, the initial/output state buffers,
// an already-built pacing protocol, the paced rectangle, the log-key
// bindings and their destinations, the log interval, the slow/fast ratio,
// and the model descriptor C5 needs to size cache and state arrays.
type Config struct {
	KernelSource string
	Descriptor   ModelDescriptor

	Nx, Ny int
	Gx, Gy float64

	Tmin, Tmax       float64
	DefaultDt, DtMin float64

	StateIn  []float64
	StateOut []float64

	Protocol         *pacing.Protocol
	NxPaced, NyPaced int

	LogKeys     []string
	LogDests    map[string]*[]float64
	VarBindings map[string]VarBinding
	LogInterval float64

	Ratio int

	// DevicePreference selects an OCCA mode directly; an empty value falls
	// back to the MYOKIT_OCL_DEVICE environment variable, then to the Serial
	// backend.
	DevicePreference string
}

func (cfg *Config) validate() error {
	if cfg.Nx < 1 || cfg.Ny < 1 {
		return &ConfigError{Msg: "nx and ny must be >= 1"}
	}
	if cfg.Ratio < 1 {
		return &ConfigError{Msg: "ratio must be >= 1"}
	}
	if cfg.DefaultDt <= 0 || cfg.DtMin <= 0 {
		return &ConfigError{Msg: "default_dt and dt_min must be > 0"}
	}
	if cfg.DtMin > cfg.DefaultDt {
		return &ConfigError{Msg: "dt_min must not exceed default_dt"}
	}
	if cfg.Tmax < cfg.Tmin {
		return &ConfigError{Msg: "tmax must not be less than tmin"}
	}
	if cfg.NxPaced < 0 || cfg.NxPaced > cfg.Nx || cfg.NyPaced < 0 || cfg.NyPaced > cfg.Ny {
		return &ConfigError{Msg: "paced rectangle must lie within the grid"}
	}
	want := cfg.Nx * cfg.Ny * cfg.Descriptor.States
	if len(cfg.StateIn) != want {
		return &ConfigError{Msg: "state_in length does not match nx*ny*S"}
	}
	if len(cfg.StateOut) != want {
		return &ConfigError{Msg: "state_out length does not match nx*ny*S"}
	}
	return nil
}

// Integrator is C7/C9: the multi-cell split-timestep loop and its lifecycle,
// parameterized by the build-time device precision R (Design Note §9).
type Integrator[R Real] struct {
	cfg Config

	dev   *device.Device
	store *stateStore[R]
	log   *logRegistry

	nx, ny, states int

	t, dt, dtMin, tmax float64
	lastSlowDt         float64

	pace, tNextPace float64
	tNextLog        float64
	logInterval     float64

	stepsTillSlow int
	ratio         int

	scratchState []float64

	halted      bool
	haltCell    int
	initialized bool
	done        bool

	finalT    float64
	finalDone bool
	finalErr  error
}

// Init builds a fresh Integrator for cfg: a device, every compiled kernel,
// its buffers, the bound log registry, and the primed pacing/logging loop
// state. This is the documented external constructor (§6); internally it
// delegates to init, which is the operation C9 actually describes as
// "refusing to run while already initialized" — exercised directly by
// integrator_test.go against a reused, explicitly Clean-ed value.
func Init[R Real](cfg Config) (*Integrator[R], error) {
	in := new(Integrator[R])
	if err := in.init(cfg); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *Integrator[R]) init(cfg Config) error {
	if in.initialized {
		return ErrAlreadyInitialized
	}
	*in = Integrator[R]{}

	if err := cfg.Descriptor.validate(); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	in.cfg = cfg
	in.nx, in.ny = cfg.Nx, cfg.Ny
	in.t = cfg.Tmin
	in.dt = cfg.DefaultDt
	in.dtMin = cfg.DtMin
	in.tmax = cfg.Tmax
	in.ratio = cfg.Ratio

	preference := cfg.DevicePreference
	if preference == "" {
		preference = os.Getenv("MYOKIT_OCL_DEVICE")
	}
	dev, err := device.Open(preference)
	if err != nil {
		return &DeviceError{Msg: "open", Err: err}
	}
	in.dev = dev
	logDeviceSelected(dev.Mode())

	if err := in.buildKernels(); err != nil {
		in.Clean()
		return err
	}

	store, err := newStateStore[R](in.dev, in.nx, in.ny, cfg.Descriptor.States, cfg.Descriptor.CacheVars, cfg.StateIn)
	if err != nil {
		in.Clean()
		return err
	}
	in.store = store
	in.states = cfg.Descriptor.States
	in.scratchState = make([]float64, in.nx*in.ny*in.states)

	reg, err := newLogRegistry(cfg.LogKeys, cfg.LogDests, cfg.VarBindings, in.nx, in.ny)
	if err != nil {
		in.Clean()
		return err
	}
	in.log = reg

	protocol := cfg.Protocol
	if protocol == nil {
		protocol, err = pacing.NewProtocol(nil)
		if err != nil {
			in.Clean()
			return &ProtocolError{Err: err}
		}
	}
	in.cfg.Protocol = protocol
	in.pace, in.tNextPace = protocol.Advance(in.t, in.t)

	in.logInterval = cfg.LogInterval
	if in.logInterval <= 0 || in.log.empty() {
		in.tNextLog = in.tmax + 1
	} else {
		in.tNextLog = in.t
	}

	in.initialized = true
	return nil
}

// buildKernels compiles the four device entry points: the generic diffusion
// and step kernels this repo always generates, plus the slow/fast pair
// wrapped around the caller-supplied RHS body (§4.1/§4.5).
func (in *Integrator[R]) buildKernels() error {
	d := in.cfg.Descriptor
	sources := map[string]string{
		"diffusion": diffusionSource[R](in.nx, in.ny, d.States),
		"step":      stepSource[R](in.nx, in.ny, d.States),
	}
	shell := derivativeShell[R](in.nx, in.ny, d, in.cfg.KernelSource)

	for _, name := range []string{"diffusion", "step"} {
		if err := in.dev.Build(name, sources[name]); err != nil {
			return &DeviceError{Msg: "build " + name, Err: err}
		}
		logKernelBuilt(name)
	}
	for _, name := range []string{"slow", "fast"} {
		if err := in.dev.Build(name, shell); err != nil {
			return &DeviceError{Msg: "build " + name, Err: err}
		}
		logKernelBuilt(name)
	}
	return nil
}

// yieldEvery mirrors §4.7 step 8's cooperative-yield cadence: smaller grids
// run more iterations between yields because each iteration does less
// device work per host round-trip.
func (in *Integrator[R]) yieldEvery() int {
	n := in.nx * in.ny
	e := 500 + 200000/n
	if e < 1000 {
		e = 1000
	}
	return e
}

// Step runs the integrator for up to one cooperative-yield slice and
// reports (t, done, err): a yield returns (t, false, nil) — call Step again
// to resume; full completion returns (tmax, true, nil); a NaN halt returns
// (tmin-1, true, nil), which is not an error (§7). Step is re-entrant and
// safe to call again after it returns done==true — it simply replays the
// stored terminal result without touching the (already released) device.
func (in *Integrator[R]) Step() (float64, bool, error) {
	// done is checked first: finish has already run Clean, which clears
	// initialized.
	if in.done {
		return in.finalT, in.finalDone, in.finalErr
	}
	if !in.initialized {
		return 0, true, &ConfigError{Msg: "integrator is not initialized"}
	}

	// The first log entry is written at t = tmin, before any kernel runs.
	if in.t == in.cfg.Tmin && in.t+1e-12 >= in.tNextLog {
		in.logBoundary()
	}

	// Checked before the loop runs any iteration, not just inside it: when
	// tmax == tmin (or a resumed Step is called exactly on the boundary),
	// state must reach the caller untouched — the round-trip property holds
	// only if no diffusion/RHS/step kernel ever enqueues against it.
	if in.t >= in.tmax {
		in.readFullState()
		copy(in.cfg.StateOut, in.scratchState)
		in.finish(in.tmax, true, nil)
		return in.finalT, in.finalDone, in.finalErr
	}

	for i := 0; i < in.yieldEvery(); i++ {
		if err := in.iterate(); err != nil {
			in.finish(in.cfg.Tmin-1, true, err)
			return in.finalT, in.finalDone, in.finalErr
		}

		if in.halted {
			in.readFullState()
			copy(in.cfg.StateOut, in.scratchState)
			logHalt(in.t, in.haltCell)
			in.finish(in.cfg.Tmin-1, true, nil)
			return in.finalT, in.finalDone, in.finalErr
		}
		if in.t >= in.tmax {
			in.readFullState()
			copy(in.cfg.StateOut, in.scratchState)
			in.finish(in.tmax, true, nil)
			return in.finalT, in.finalDone, in.finalErr
		}
	}

	in.dev.Finish()
	return in.t, false, nil
}

// iterate runs exactly one pass of §4.7 steps 1-5 and 7, deferring the exit
// test (step 6) to the caller. When the log boundary sets halted, it returns
// without choosing the next dt.
func (in *Integrator[R]) iterate() error {
	nx32, ny32 := int32(in.nx), int32(in.ny)

	if err := in.dev.Run("diffusion", nx32, ny32, R(in.cfg.Gx), R(in.cfg.Gy), in.store.state, in.store.idiff); err != nil {
		return &DeviceError{Msg: "run diffusion", Err: err}
	}

	nxPaced, nyPaced := int32(in.cfg.NxPaced), int32(in.cfg.NyPaced)
	rhsDt := in.dt
	kernel := "fast"
	if in.stepsTillSlow == 0 {
		kernel = "slow"
		rhsDt = in.dt * float64(in.ratio)
		in.lastSlowDt = rhsDt
	}
	if err := in.dev.Run(kernel, nx32, ny32, R(in.t), R(rhsDt), R(in.pace), nxPaced, nyPaced,
		in.store.state, in.store.idiff, in.store.cache, in.store.deriv); err != nil {
		return &DeviceError{Msg: "run " + kernel, Err: err}
	}
	in.stepsTillSlow = (in.stepsTillSlow + 1) % in.ratio

	if err := in.dev.Run("step", nx32, ny32, R(in.dt), in.store.deriv, in.store.state); err != nil {
		return &DeviceError{Msg: "run step", Err: err}
	}

	tPrev := in.t
	in.t += in.dt
	in.pace, in.tNextPace = in.cfg.Protocol.Advance(tPrev, in.t)

	if in.t+1e-12 >= in.tNextLog {
		in.logBoundary()
		if in.halted {
			return nil
		}
	}

	in.chooseDt()
	return nil
}

// logBoundary implements §4.7 step 5: selective readback driven by the
// registry's loggingDiffusion/loggingStates flags, the NaN halt check on
// cell 0's slot 0 (the Open Question decision kept unwidened, see
// DESIGN.md), appending to every bound destination, and advancing
// tNextLog.
func (in *Integrator[R]) logBoundary() {
	if in.log.loggingStates {
		in.readFullState()
	}
	if in.log.loggingDiffusion {
		in.store.readIdiff()
	}

	if in.checkHalt() {
		in.halted = true
		in.haltCell = 0
		return
	}

	var idiffOut []float64
	if in.log.loggingDiffusion {
		idiffOut = make([]float64, len(in.store.hostIdiff))
		for i, v := range in.store.hostIdiff {
			idiffOut[i] = float64(v)
		}
	}

	dtForLog := in.dt
	if in.lastSlowDt != 0 {
		dtForLog = in.lastSlowDt
	}
	in.log.append(in.t, in.pace, dtForLog, in.scratchState, idiffOut, in.states)

	for in.tNextLog <= in.t+1e-12 {
		in.tNextLog += in.logInterval
	}
}

// checkHalt reads only state[0] (cell 0, slot 0) and reports whether it is
// non-finite. When the registry already pulled a full readback this call is
// free; otherwise it downloads exactly one scalar.
//
// This deliberately widens the halt condition from NaN-only to NaN-or-Inf
// (documented per the Open Question decision in DESIGN.md): an unstable
// voltage update overflows to +/-Inf before it ever produces a NaN, and a
// halt that only fires once the state is already NaN would let a diverging
// run burn through a much larger number of iterations first.
func (in *Integrator[R]) checkHalt() bool {
	if in.log.loggingStates {
		return math.IsNaN(in.scratchState[0]) || math.IsInf(in.scratchState[0], 0)
	}
	var probe R
	in.store.state.CopyTo(unsafe.Pointer(&probe), sizeOfReal[R]())
	v := float64(probe)
	return math.IsNaN(v) || math.IsInf(v, 0)
}

func (in *Integrator[R]) readFullState() {
	in.store.readState(in.scratchState)
}

// chooseDt implements §4.7 step 7: clamp toward tmax and the next pacing
// boundary, never below dtMin, never clamped toward tNextLog (logs may be
// sparser than steps, per §4.8).
func (in *Integrator[R]) chooseDt() {
	next := in.cfg.DefaultDt
	if rem := in.tmax - in.t; rem < next {
		next = rem
	}
	if in.tNextPace > in.t {
		if rem := in.tNextPace - in.t; rem < next {
			next = rem
		}
	}
	if next < in.dtMin {
		next = in.dtMin
	}
	in.dt = next
}

// finish records the terminal result and releases every device resource
// (C9's Clean), so a re-entrant Step call after done==true never touches a
// freed handle.
func (in *Integrator[R]) finish(t float64, done bool, err error) {
	in.finalT, in.finalDone, in.finalErr = t, done, err
	in.done = true
	in.Clean()
}

// Clean releases device kernels and buffers and marks the integrator
// uninitialized. It tolerates a partially-initialized Integrator (Init
// calls it on every failure path) and is a no-op when called again.
func (in *Integrator[R]) Clean() {
	if in == nil {
		return
	}
	if in.dev != nil {
		in.dev.Close()
	}
	in.initialized = false
	logCleaned()
}
