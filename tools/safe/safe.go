package safe

import (
	"PChatGate/logger"
	"PChatGate/tools/errs"

	"go.uber.org/zap"
)

// Go starts f in a goroutine that recovers from panic, so that one bad
// event never takes the process down.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover logs a recovered panic; use as `defer safe.Recover("...")`.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered", zap.String("task", name), zap.Error(errs.ErrPanic(r)), zap.Stack("stack"))
	}
}

