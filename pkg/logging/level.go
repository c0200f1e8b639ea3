package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level is a logging level name.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var zapLevels = map[Level]zapcore.Level{
	"":         zapcore.InfoLevel,
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// ParseLevel parses a case-insensitive level name. An empty name is INFO.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(s))
	if err := l.Validate(); err != nil {
		return "", err
	}
	if l == "" {
		return LevelInfo, nil
	}
	return l, nil
}

// Validate reports whether l names a known level.
func (l Level) Validate() error {
	if _, ok := zapLevels[Level(strings.ToUpper(string(l)))]; !ok {
		return fmt.Errorf("unknown log level: %s", l)
	}
	return nil
}

// String implements fmt.Stringer.
func (l Level) String() string { return strings.ToUpper(string(l)) }

func (l Level) zap() (zapcore.Level, error) {
	lvl, ok := zapLevels[Level(strings.ToUpper(string(l)))]
	if !ok {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", l)
	}
	return lvl, nil
}

func (c *Config) zapLevel() (zapcore.Level, error) {
	if c.Debug {
		return zapcore.DebugLevel, nil
	}
	return c.Level.zap()
}
