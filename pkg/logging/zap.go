package logging

import "go.uber.org/zap"

type zapLogger struct {
	l *zap.Logger
}

// ForZap adapts a zap logger. Caller information points at the code calling
// the Interface methods, not at this adapter.
func ForZap(l *zap.Logger) Interface {
	return zapLogger{l: l.WithOptions(zap.AddCallerSkip(1))}
}

func (z zapLogger) WithField(key string, value interface{}) Interface {
	return zapLogger{z.l.With(zap.Any(key, value))}
}

func (z zapLogger) WithError(err error) Interface {
	return zapLogger{z.l.With(zap.Error(err))}
}

func (z zapLogger) Debug(msg string) { z.l.Debug(msg) }
func (z zapLogger) Info(msg string)  { z.l.Info(msg) }
func (z zapLogger) Warn(msg string)  { z.l.Warn(msg) }
func (z zapLogger) Error(msg string) { z.l.Error(msg) }
func (z zapLogger) Fatal(msg string) { z.l.Fatal(msg) }

func (z zapLogger) Debugf(format string, args ...interface{}) { z.l.Debug(sprintf(format, args)) }
func (z zapLogger) Infof(format string, args ...interface{})  { z.l.Info(sprintf(format, args)) }
func (z zapLogger) Warnf(format string, args ...interface{})  { z.l.Warn(sprintf(format, args)) }
func (z zapLogger) Errorf(format string, args ...interface{}) { z.l.Error(sprintf(format, args)) }
func (z zapLogger) Fatalf(format string, args ...interface{}) { z.l.Fatal(sprintf(format, args)) }
