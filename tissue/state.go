package tissue

import (
	"math"
	"strconv"
	"unsafe"

	"github.com/2lambda123/myokit/device"
)

// Real is the build-time device precision choice from Design Note §9: one
// instantiation of Integrator[R] fixes float32 or float64 arithmetic for
// every device-side buffer and every narrowed scalar kernel argument.
type Real interface {
	float32 | float64
}

func sizeOfReal[R Real]() int64 {
	var zero R
	return int64(unsafe.Sizeof(zero))
}

// stateStore owns the host mirrors and device buffers for state, idiff,
// deriv, and cache (C2), generalizing dgkernel.CopyArrayToHost's
// narrow-on-copy idea to a single, unpartitioned grid.
type stateStore[R Real] struct {
	nx, ny, states, cacheVars int

	hostState []R
	hostIdiff []R

	state *device.Memory
	idiff *device.Memory
	deriv *device.Memory
	cache *device.Memory
}

func newStateStore[R Real](dev *device.Device, nx, ny, states, cacheVars int, stateIn []float64) (*stateStore[R], error) {
	want := nx * ny * states
	if len(stateIn) != want {
		return nil, &ConfigError{Msg: "state_in length does not match nx*ny*S"}
	}
	for i, v := range stateIn {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ConfigError{Msg: "state_in contains a non-finite value at index " + strconv.Itoa(i)}
		}
	}

	s := &stateStore[R]{nx: nx, ny: ny, states: states, cacheVars: cacheVars}

	s.hostState = make([]R, want)
	for i, v := range stateIn {
		s.hostState[i] = R(v)
	}
	s.hostIdiff = make([]R, nx*ny)

	realBytes := sizeOfReal[R]()
	s.state = dev.Malloc("state", int64(want)*realBytes, unsafe.Pointer(&s.hostState[0]))
	s.idiff = dev.Malloc("idiff", int64(nx*ny)*realBytes, hostPtr(s.hostIdiff))
	s.deriv = dev.Malloc("deriv", int64(want)*realBytes, nil)
	if cacheVars > 0 {
		s.cache = dev.Malloc("cache", int64(nx*ny*cacheVars)*realBytes, nil)
	} else {
		// Zero-size buffers are never dereferenced (no model defines a
		// K=0 slow kernel that writes to cache), but OCCA still needs a
		// valid handle to pass as a kernel argument.
		s.cache = dev.Malloc("cache", realBytes, nil)
	}

	return s, nil
}

// hostPtr returns a pointer to a slice's backing array, or nil for an empty
// slice, matching OCCA's own convention for empty-array allocation.
func hostPtr[R Real](s []R) unsafe.Pointer {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Pointer(&s[0])
}

// readState downloads the device state buffer and converts it from R into
// dst (float64, the host-side contract every external interface uses).
func (s *stateStore[R]) readState(dst []float64) {
	s.state.CopyTo(unsafe.Pointer(&s.hostState[0]), int64(len(s.hostState))*sizeOfReal[R]())
	for i, v := range s.hostState {
		dst[i] = float64(v)
	}
}

// readIdiff downloads the device diffusion-current buffer into the host
// mirror (used only when the log registry references it).
func (s *stateStore[R]) readIdiff() {
	s.idiff.CopyTo(unsafe.Pointer(&s.hostIdiff[0]), int64(len(s.hostIdiff))*sizeOfReal[R]())
}
