package logging

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// UseLoggingInterface routes fx's own events to the Interface in the
// container. Successful lifecycle events are logged at debug so a CLI run
// stays quiet; failures are logged as errors.
var UseLoggingInterface fx.Option = fx.WithLogger(
	func(logger Interface) fxevent.Logger {
		return fxLogger{logger.WithField("component", "fx")}
	},
)

type fxLogger struct{ log Interface }

// LogEvent implements fxevent.Logger.
func (f fxLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		f.result("OnStart hook", e.Err, f.log.WithField("callee", e.FunctionName).WithField("runtime", e.Runtime.String()))
	case *fxevent.OnStopExecuted:
		f.result("OnStop hook", e.Err, f.log.WithField("callee", e.FunctionName).WithField("runtime", e.Runtime.String()))
	case *fxevent.Provided:
		if e.Err != nil {
			f.log.WithField("constructor", e.ConstructorName).WithError(e.Err).Error("provide failed")
		}
	case *fxevent.Invoked:
		f.result("Invoke", e.Err, f.log.WithField("function", e.FunctionName))
	case *fxevent.Stopping:
		f.log.WithField("signal", e.Signal.String()).Debug("received signal")
	case *fxevent.Stopped:
		f.result("Stop", e.Err, f.log)
	case *fxevent.RollingBack:
		f.result("Start", e.StartErr, f.log)
	case *fxevent.RolledBack:
		f.result("Rollback", e.Err, f.log)
	case *fxevent.Started:
		f.result("Start", e.Err, f.log)
	case *fxevent.LoggerInitialized:
		f.result("Logger initialization", e.Err, f.log)
	}
}

func (fxLogger) result(what string, err error, log Interface) {
	if err != nil {
		log.WithError(err).Error(what + " failed")
		return
	}
	log.Debug(what + " succeeded")
}
