package logging

import (
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger writing to the configured console stream and,
// when a file name is set, to a rotated file.
func NewLogger(config *Config) (*zap.Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	level, err := config.zapLevel()
	if err != nil {
		return nil, err
	}

	encoder := newEncoder(config)
	var cores []zapcore.Core
	switch config.Output {
	case "none":
	case "stdout":
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
	default:
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}
	if config.File.Filename != "" {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&config.File), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func newEncoder(config *Config) zapcore.Encoder {
	if config.Format == "json" && !config.Debug {
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		return zapcore.NewJSONEncoder(enc)
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(enc)
}

// NewTestLogger returns a logrus-backed logger for tests.
func NewTestLogger() Interface {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return ForLogrus(logrus.NewEntry(l))
}
