package tissue

import (
	"fmt"
	"strings"
)

// workgroupSize returns the local work-group dimensions from §4.1:
// (32, ny>1 ? 4 : 1).
func workgroupSize(ny int) (groupX, groupY int) {
	groupX = 32
	groupY = 1
	if ny > 1 {
		groupY = 4
	}
	return groupX, groupY
}

// groupCount returns the number of work-groups of size group needed to
// cover n items, so that the global size (groupCount*group) is n rounded up
// to the next multiple of the local size, matching §4.1.
func groupCount(n, group int) int {
	return (n + group - 1) / group
}

// realTypeName returns the OKL scalar type name for R, grounded on
// dgkernel.generateTypeDefinitions's floatTypeStr selection — this is the
// single build-time choice Design Note §9 calls for.
func realTypeName[R Real]() string {
	var zero R
	switch any(zero).(type) {
	case float32:
		return "float"
	default:
		return "double"
	}
}

// preamble emits the shared typedefs and #define constants every generated
// kernel is compiled with, mirroring dgkernel.generateTypeDefinitions's
// "typedef %s real_t" / "#define NPART %d" style.
func preamble[R Real](nx, ny, states, cacheVars int) string {
	groupX, groupY := workgroupSize(ny)
	nxGroups := groupCount(nx, groupX)
	nyGroups := groupCount(ny, groupY)

	var sb strings.Builder
	fmt.Fprintf(&sb, "typedef %s real_t;\n", realTypeName[R]())
	fmt.Fprintf(&sb, "#define STATE_COUNT %d\n", states)
	fmt.Fprintf(&sb, "#define CACHE_COUNT %d\n", cacheVars)
	fmt.Fprintf(&sb, "#define GROUP_X %d\n", groupX)
	fmt.Fprintf(&sb, "#define GROUP_Y %d\n", groupY)
	fmt.Fprintf(&sb, "#define NX_GROUPS %d\n", nxGroups)
	fmt.Fprintf(&sb, "#define NY_GROUPS %d\n", nyGroups)
	sb.WriteString("\n")
	return sb.String()
}

// diffusionSource generates the five-point Neumann-Laplacian kernel (C4),
// following halo.GetGatherKernel's @outer/@inner nesting and
// dgkernel.generateMatrixMacros's bounds-check-inside-@inner idiom.
func diffusionSource[R Real](nx, ny, states int) string {
	return preamble[R](nx, ny, states, 0) + `
@kernel void diffusion(const int nx, const int ny,
                        const real_t gx, const real_t gy,
                        const real_t *state, real_t *idiff) {
  for (int by = 0; by < NY_GROUPS; ++by; @outer) {
    for (int bx = 0; bx < NX_GROUPS; ++bx; @outer) {
      for (int ty = 0; ty < GROUP_Y; ++ty; @inner) {
        for (int tx = 0; tx < GROUP_X; ++tx; @inner) {
          const int x = bx * GROUP_X + tx;
          const int y = by * GROUP_Y + ty;
          if (x < nx && y < ny) {
            const int c = y * nx + x;
            const real_t v = state[c * STATE_COUNT + 0];

            const real_t vxm = (x > 0)      ? state[(c - 1) * STATE_COUNT + 0]  : v;
            const real_t vxp = (x < nx - 1) ? state[(c + 1) * STATE_COUNT + 0]  : v;
            const real_t vym = (y > 0)      ? state[(c - nx) * STATE_COUNT + 0] : v;
            const real_t vyp = (y < ny - 1) ? state[(c + nx) * STATE_COUNT + 0] : v;

            idiff[c] = gx * (2 * v - vxm - vxp) + gy * (2 * v - vym - vyp);
          }
        }
      }
    }
  }
}
`
}

// stepSource generates the explicit forward-Euler update kernel (C6).
func stepSource[R Real](nx, ny, states int) string {
	return preamble[R](nx, ny, states, 0) + `
@kernel void step(const int nx, const int ny, const real_t dt,
                   const real_t *deriv, real_t *state) {
  for (int by = 0; by < NY_GROUPS; ++by; @outer) {
    for (int bx = 0; bx < NX_GROUPS; ++bx; @outer) {
      for (int ty = 0; ty < GROUP_Y; ++ty; @inner) {
        for (int tx = 0; tx < GROUP_X; ++tx; @inner) {
          const int x = bx * GROUP_X + tx;
          const int y = by * GROUP_Y + ty;
          if (x < nx && y < ny) {
            const int c = y * nx + x;
            for (int s = 0; s < STATE_COUNT; ++s) {
              state[c * STATE_COUNT + s] += dt * deriv[c * STATE_COUNT + s];
            }
          }
        }
      }
    }
  }
}
`
}

// derivativeShell wraps the caller-supplied per-cell RHS body (the model
// generator's textual output, §4.5/§9) with the @outer/@inner grid loop, the
// paced-rectangle stimulus gate, and the slow/fast entry points. body must
// define two OKL device functions with this exact signature contract:
//
//	void slow_rhs(real_t t, real_t stim, const real_t *y, real_t idiff,
//	              real_t *cache_out, real_t *deriv_out);
//	void fast_rhs(real_t t, real_t stim, const real_t *y, real_t idiff,
//	              const real_t *cache_in, real_t *deriv_out);
//
// grounded on dgkernel.BuildKernel's "preamble + \n + kernelSource"
// composition, generalized here to two named entry points sharing one body.
func derivativeShell[R Real](nx, ny int, descriptor ModelDescriptor, body string) string {
	pre := preamble[R](nx, ny, descriptor.States, descriptor.CacheVars)

	var sb strings.Builder
	sb.WriteString(pre)
	fmt.Fprintf(&sb, "#define STIMULUS_AMPLITUDE %s\n\n", formatConst[R](descriptor.StimulusAmplitude))
	sb.WriteString(body)
	sb.WriteString("\n")
	sb.WriteString(derivativeKernelEntry("slow", true))
	sb.WriteString(derivativeKernelEntry("fast", false))
	return sb.String()
}

func derivativeKernelEntry(name string, slow bool) string {
	callLine := "fast_rhs(time, stim, y_, idiff[c], cache + c * CACHE_COUNT, deriv + c * STATE_COUNT);"
	if slow {
		callLine = "slow_rhs(time, stim, y_, idiff[c], cache + c * CACHE_COUNT, deriv + c * STATE_COUNT);"
	}

	return fmt.Sprintf(`
@kernel void %s(const int nx, const int ny,
               const real_t time, const real_t dt, const real_t pace,
               const int nx_paced, const int ny_paced,
               const real_t *state, const real_t *idiff,
               real_t *cache, real_t *deriv) {
  for (int by = 0; by < NY_GROUPS; ++by; @outer) {
    for (int bx = 0; bx < NX_GROUPS; ++bx; @outer) {
      for (int ty = 0; ty < GROUP_Y; ++ty; @inner) {
        for (int tx = 0; tx < GROUP_X; ++tx; @inner) {
          const int x = bx * GROUP_X + tx;
          const int y = by * GROUP_Y + ty;
          if (x < nx && y < ny) {
            const int c = y * nx + x;
            const real_t *y_ = state + c * STATE_COUNT;
            const real_t stim = (x < nx_paced && y < ny_paced)
              ? pace * (real_t)STIMULUS_AMPLITUDE
              : 0;
            %s
          }
        }
      }
    }
  }
}
`, name, callLine)
}

// formatConst renders a float64 constant as an OKL literal of the build
// precision R (adds the 'f' suffix for float32, matching
// dgkernel.formatStaticMatrix's %.7ef / %.15e split).
func formatConst[R Real](v float64) string {
	if realTypeName[R]() == "float" {
		return fmt.Sprintf("%.7ef", v)
	}
	return fmt.Sprintf("%.15e", v)
}
