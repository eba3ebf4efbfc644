package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter writes fx container events to the package logger.
// Successful events are logged at debug level, failures at error level.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter returns the fx event logger.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent implements fxevent.Logger.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		Debugf("fx: start hook %s", hookName(e.FunctionName))
	case *fxevent.OnStartExecuted:
		hookResult("start", e.FunctionName, e.Err)
	case *fxevent.OnStopExecuting:
		Debugf("fx: stop hook %s", hookName(e.FunctionName))
	case *fxevent.OnStopExecuted:
		hookResult("stop", e.FunctionName, e.Err)
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("fx: provide %s: %v", hookName(e.ConstructorName), e.Err)
			return
		}
		Debugf("fx: provided %s", strings.Join(e.OutputTypeNames, ", "))
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("fx: invoke %s: %v", e.FunctionName, e.Err)
		}
	case *fxevent.Supplied:
		failed("supply", e.Err)
	case *fxevent.Stopped:
		failed("stop", e.Err)
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		failed("rollback", e.Err)
	case *fxevent.Started:
		if e.Err == nil {
			Debugf("fx: application started")
		}
		failed("start", e.Err)
	case *fxevent.LoggerInitialized:
		failed("logger initialization", e.Err)
	case *fxevent.Stopping:
		Debugf("fx: received %s", e.Signal)
	}
}

func hookResult(kind, fn string, err error) {
	if err != nil {
		Errorf("fx: %s hook %s failed: %v", kind, hookName(fn), err)
		return
	}
	Debugf("fx: %s hook %s done", kind, hookName(fn))
}

func failed(what string, err error) {
	if err != nil {
		Errorf("fx: %s failed: %v", what, err)
	}
}

// hookName drops the ".funcN" suffix fx reports for closures.
func hookName(fn string) string {
	if i := strings.LastIndex(fn, ".func"); i >= 0 {
		return fn[:i]
	}
	return fn
}
