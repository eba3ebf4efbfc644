package logger

import "go.uber.org/fx"

// Module routes fx container events to this package's logger.
var Module = fx.WithLogger(NewFxLoggerAdapter)
