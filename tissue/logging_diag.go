package tissue

import (
	"log/slog"
	"os"
)

// diag is the package-wide structured-diagnostics logger, grounded on
// samcharles93-mantle/internal/logger's stdlib log/slog usage — the only
// structured-logging convention present anywhere in the retrieval pack.
// It is deliberately separate from logRegistry (C8): this logger reports
// run events (device selection, kernel build completion, halts, teardown) to the
// operator, it never touches the numeric data the integrator logs for the
// caller.
var diag = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetDiagLogger replaces the package's diagnostics logger, letting a host
// application route these events into its own handler (e.g. JSON to a file)
// instead of the default stderr text handler.
func SetDiagLogger(l *slog.Logger) {
	if l != nil {
		diag = l
	}
}

func logDeviceSelected(mode string) {
	diag.Info("device selected", slog.String("mode", mode))
}

func logKernelBuilt(name string) {
	diag.Debug("kernel built", slog.String("kernel", name))
}

func logHalt(t float64, cell int) {
	diag.Warn("integrator halted on non-finite state",
		slog.Float64("time", t),
		slog.Int("cell", cell),
	)
}

func logCleaned() {
	diag.Debug("integrator cleaned up")
}
