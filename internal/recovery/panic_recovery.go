package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

var Logger = slog.Default()

// WithRecovery runs fn on its own goroutine and logs (instead of
// crashing the dispatcher) if it panics. Every background loop of the
// dispatch layer runs under one of these.
func WithRecovery(fn func(), name string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				Logger.Error("goroutine_panic_recovered",
					slog.String("goroutine", name),
					slog.String("error", fmt.Sprintf("%v", r)),
					slog.String("stack", stack),
				)
			}
		}()
		fn()
	}()
}

// WithRecoveryNamed is WithRecovery with the arguments flipped, for call
// sites where the closure is long.
func WithRecoveryNamed(name string, fn func()) {
	WithRecovery(fn, name)
}

// WithRecoverySync runs fn inline under the same recovery guard.
func WithRecoverySync(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			Logger.Error("sync_panic_recovered",
				slog.String("error", fmt.Sprintf("%v", r)),
				slog.String("stack", stack),
			)
		}
	}()
	fn()
}
