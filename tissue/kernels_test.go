package tissue

import (
	"strings"
	"testing"
)

func TestWorkgroupSize(t *testing.T) {
	cases := []struct {
		ny             int
		wantX, wantY   int
	}{
		{1, 32, 1},
		{2, 32, 4},
		{64, 32, 4},
	}
	for _, c := range cases {
		gx, gy := workgroupSize(c.ny)
		if gx != c.wantX || gy != c.wantY {
			t.Errorf("workgroupSize(%d) = (%d,%d), want (%d,%d)", c.ny, gx, gy, c.wantX, c.wantY)
		}
	}
}

func TestGroupCount_RoundsUp(t *testing.T) {
	cases := []struct{ n, group, want int }{
		{32, 32, 1},
		{33, 32, 2},
		{0, 32, 0},
		{65, 32, 3},
	}
	for _, c := range cases {
		if got := groupCount(c.n, c.group); got != c.want {
			t.Errorf("groupCount(%d,%d) = %d, want %d", c.n, c.group, got, c.want)
		}
	}
}

func TestRealTypeName(t *testing.T) {
	if got := realTypeName[float32](); got != "float" {
		t.Errorf("realTypeName[float32]() = %q, want float", got)
	}
	if got := realTypeName[float64](); got != "double" {
		t.Errorf("realTypeName[float64]() = %q, want double", got)
	}
}

func TestPreamble_DefinesExpectedConstants(t *testing.T) {
	src := preamble[float64](16, 8, 4, 2)
	for _, want := range []string{
		"typedef double real_t;",
		"#define STATE_COUNT 4",
		"#define CACHE_COUNT 2",
		"#define GROUP_X 32",
		"#define GROUP_Y 4",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("preamble missing %q in:\n%s", want, src)
		}
	}
}

func TestDiffusionSource_ContainsKernelEntryAndLaplacian(t *testing.T) {
	src := diffusionSource[float64](4, 4, 3)
	if !strings.Contains(src, "@kernel void diffusion(") {
		t.Fatal("diffusion source missing @kernel entry point")
	}
	if !strings.Contains(src, "gx * (2 * v - vxm - vxp)") {
		t.Error("diffusion source missing x-direction Laplacian term")
	}
	if !strings.Contains(src, "#define STATE_COUNT 3") {
		t.Error("diffusion source did not bake in the state count")
	}
}

func TestStepSource_AppliesForwardEuler(t *testing.T) {
	src := stepSource[float32](8, 1, 5)
	if !strings.Contains(src, "state[c * STATE_COUNT + s] += dt * deriv[c * STATE_COUNT + s];") {
		t.Error("step source missing forward-Euler update line")
	}
	if !strings.Contains(src, "typedef float real_t;") {
		t.Error("step source did not select float32 as real_t")
	}
}

func TestDerivativeShell_DefinesStimulusAndBothEntryPoints(t *testing.T) {
	descriptor := ModelDescriptor{States: 2, CacheVars: 1, StimulusAmplitude: 40.0}
	body := `
void slow_rhs(real_t t, real_t stim, const real_t *y, real_t idiff, real_t *cache_out, real_t *deriv_out) {
  cache_out[0] = y[0];
  deriv_out[0] = -y[0] + stim - idiff;
  deriv_out[1] = 0;
}
void fast_rhs(real_t t, real_t stim, const real_t *y, real_t idiff, const real_t *cache_in, real_t *deriv_out) {
  deriv_out[0] = -y[0] + stim - idiff;
  deriv_out[1] = 0;
}
`
	src := derivativeShell[float64](4, 4, descriptor, body)

	if !strings.Contains(src, "#define STIMULUS_AMPLITUDE 4.000000000000000e+01") {
		t.Errorf("derivativeShell did not bake in StimulusAmplitude as a double literal:\n%s", src)
	}
	if !strings.Contains(src, "@kernel void slow(") {
		t.Error("derivativeShell missing slow entry point")
	}
	if !strings.Contains(src, "@kernel void fast(") {
		t.Error("derivativeShell missing fast entry point")
	}
	if !strings.Contains(src, "slow_rhs(time, stim, y_, idiff[c]") {
		t.Error("slow entry point does not call slow_rhs")
	}
	if !strings.Contains(src, "fast_rhs(time, stim, y_, idiff[c]") {
		t.Error("fast entry point does not call fast_rhs")
	}
	if !strings.Contains(src, "void slow_rhs(") {
		t.Error("caller-supplied body was dropped from the generated shell")
	}
}

func TestFormatConst_SwitchesSuffixByPrecision(t *testing.T) {
	f32 := formatConst[float32](1.5)
	if !strings.HasSuffix(f32, "f") {
		t.Errorf("formatConst[float32](1.5) = %q, want an f-suffixed literal", f32)
	}
	f64 := formatConst[float64](1.5)
	if strings.HasSuffix(f64, "f") {
		t.Errorf("formatConst[float64](1.5) = %q, want no f suffix", f64)
	}
}
