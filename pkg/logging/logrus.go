package logging

import "github.com/sirupsen/logrus"

type logrusLogger struct {
	e *logrus.Entry
}

// ForLogrus adapts a logrus entry.
func ForLogrus(e *logrus.Entry) Interface {
	return logrusLogger{e}
}

func (l logrusLogger) WithField(key string, value interface{}) Interface {
	return logrusLogger{l.e.WithField(key, value)}
}

func (l logrusLogger) WithError(err error) Interface {
	return logrusLogger{l.e.WithError(err)}
}

func (l logrusLogger) Debug(msg string) { l.e.Debug(msg) }
func (l logrusLogger) Info(msg string)  { l.e.Info(msg) }
func (l logrusLogger) Warn(msg string)  { l.e.Warn(msg) }
func (l logrusLogger) Error(msg string) { l.e.Error(msg) }
func (l logrusLogger) Fatal(msg string) { l.e.Fatal(msg) }

func (l logrusLogger) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l logrusLogger) Infof(format string, args ...interface{})  { l.e.Infof(format, args...) }
func (l logrusLogger) Warnf(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l logrusLogger) Errorf(format string, args ...interface{}) { l.e.Errorf(format, args...) }
func (l logrusLogger) Fatalf(format string, args ...interface{}) { l.e.Fatalf(format, args...) }
