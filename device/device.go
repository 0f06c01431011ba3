// Package device wraps github.com/notargets/gocca's OCCA device binding
// with the narrow surface the tissue integrator needs: select one device,
// build named kernels from combined preamble+body source, allocate and
// track pooled buffers, and run kernels with positional arguments.
package device

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"
)

// Device owns one OCCA device handle, its compiled kernels, and its pooled
// buffers. It is not safe for concurrent use — the integrator drives it from
// a single goroutine, matching OCCA's single in-order command queue.
type Device struct {
	occa    *gocca.OCCADevice
	mode    string
	kernels map[string]*gocca.OCCAKernel
	buffers map[string]*gocca.OCCAMemory
}

// Open selects a device. preference is an OCCA mode string such as
// "Serial", "OpenMP", "OpenCL", or "CUDA". An empty preference opens the
// Serial backend, which is always available.
func Open(preference string) (*Device, error) {
	info := `{"mode": "Serial"}`
	if preference != "" {
		info = fmt.Sprintf(`{"mode": %q}`, preference)
	}

	occaDevice, err := gocca.NewDevice(info)
	if err != nil {
		return nil, fmt.Errorf("device: no device matching %q: %w", preference, err)
	}

	d := &Device{
		occa:    occaDevice,
		mode:    preference,
		kernels: make(map[string]*gocca.OCCAKernel),
		buffers: make(map[string]*gocca.OCCAMemory),
	}
	if d.mode == "" {
		d.mode = occaDevice.Mode()
	}
	return d, nil
}

// Mode reports the OCCA backend actually selected.
func (d *Device) Mode() string {
	return d.mode
}

// Build compiles one named kernel entry point out of fullSource (preamble
// plus body, already concatenated by the caller) and registers it under
// name for later Run calls. Building the same name twice replaces the
// previous kernel.
//
// gocca.OCCADevice.BuildKernelFromString does not surface OCCA's textual
// build log through its error return (a gap present in the binding itself,
// not introduced here); this wraps what the binding does report and treats
// a kernel that fails IsInitialized as an additional build failure, per the
// decision recorded in DESIGN.md.
func (d *Device) Build(name, fullSource string) error {
	var props *gocca.OCCAJson
	if d.mode == "OpenMP" {
		props = gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
	}

	kernel, err := d.occa.BuildKernelFromString(fullSource, name, props)
	if err != nil {
		return fmt.Errorf("device: build kernel %q on %s device: %w", name, d.mode, err)
	}
	if kernel == nil || !kernel.IsInitialized() {
		return fmt.Errorf("device: build kernel %q on %s device: kernel did not initialize; see stderr for compiler diagnostics", name, d.mode)
	}

	if old, ok := d.kernels[name]; ok {
		old.Free()
	}
	d.kernels[name] = kernel
	return nil
}

// Run enqueues the named kernel with the given positional arguments.
// Arguments follow gocca.OCCAKernel.RunWithArgs's conversion rules: plain
// scalars (int32, float32, float64, ...) and *Memory buffer handles.
func (d *Device) Run(name string, args ...interface{}) error {
	kernel, ok := d.kernels[name]
	if !ok {
		return fmt.Errorf("device: kernel %q not built", name)
	}
	expanded := make([]interface{}, len(args))
	for i, a := range args {
		if m, ok := a.(*Memory); ok {
			expanded[i] = m.occa
		} else {
			expanded[i] = a
		}
	}
	if err := kernel.RunWithArgs(expanded...); err != nil {
		return fmt.Errorf("device: run kernel %q: %w", name, err)
	}
	return nil
}

// Malloc allocates a pooled device buffer of the given byte size and tracks
// it under name so Clean can release it later. Passing a non-nil src
// uploads the initial contents.
func (d *Device) Malloc(name string, bytes int64, src unsafe.Pointer) *Memory {
	mem := d.occa.Malloc(bytes, src, nil)
	d.buffers[name] = mem
	return &Memory{occa: mem}
}

// Buffer returns a previously allocated pooled buffer, or nil.
func (d *Device) Buffer(name string) *Memory {
	mem, ok := d.buffers[name]
	if !ok {
		return nil
	}
	return &Memory{occa: mem}
}

// Finish blocks until all enqueued work on this device's queue has
// completed. Used at the integrator's cooperative yield points (§4.7 step
// 8); host read-backs rely on CopyTo being synchronous instead.
//
// This calls the device-scoped Finish, not gocca's package-level Finish
// (which targets whatever device gocca.SetDevice last selected) — §9
// requires multiple Integrator instances to coexist without shared global
// state, and a package-level call would violate that the moment two
// Integrators ran on different devices.
func (d *Device) Finish() {
	d.occa.Finish()
}

// Close releases every tracked kernel and buffer, then the device itself.
// It tolerates being called on a zero-value-adjacent Device (nil maps) and
// is safe to call more than once — the second call simply finds empty maps
// and a nil occa handle.
func (d *Device) Close() {
	if d == nil {
		return
	}
	for name, k := range d.kernels {
		if k != nil {
			k.Free()
		}
		delete(d.kernels, name)
	}
	for name, m := range d.buffers {
		if m != nil {
			m.Free()
		}
		delete(d.buffers, name)
	}
	if d.occa != nil {
		d.occa.Free()
		d.occa = nil
	}
}

// Memory is a handle to one pooled device buffer.
type Memory struct {
	occa *gocca.OCCAMemory
}

// CopyFrom uploads bytes from host memory at src into this buffer.
func (m *Memory) CopyFrom(src unsafe.Pointer, bytes int64) {
	m.occa.CopyFrom(src, bytes)
}

// CopyTo downloads bytes from this buffer into host memory at dst.
func (m *Memory) CopyTo(dst unsafe.Pointer, bytes int64) {
	m.occa.CopyTo(dst, bytes)
}
