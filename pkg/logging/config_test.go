package logging

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewConfig_Viper(t *testing.T) {
	v := viper.New()
	v.SetConfigType("YAML")
	require.NoError(t, v.ReadConfig(strings.NewReader(`---
logging:
  level: warn
  format: json
  output: none
  file:
    filename: /var/log/objctl/objctl.log
    maxsize: 42
    maxage: 10
    maxbackups: 3
    compress: true
`)))

	c, err := NewConfig(WithViper(v))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	d := cmp.Diff(&Config{
		Level:  "warn",
		Format: "json",
		Output: "none",
		File: lumberjack.Logger{
			Filename:   "/var/log/objctl/objctl.log",
			MaxSize:    42,
			MaxAge:     10,
			MaxBackups: 3,
			Compress:   true,
		},
	}, c, cmpopts.IgnoreUnexported(lumberjack.Logger{}))
	require.Empty(t, d)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "zero value", config: &Config{}},
		{name: "debug console", config: &Config{Debug: true, Format: "console", Output: "stdout"}},
		{name: "unknown format", config: &Config{Format: "xml"}, wantErr: true},
		{name: "unknown output", config: &Config{Output: "syslog"}, wantErr: true},
		{name: "unknown level", config: &Config{Level: "trace"}, wantErr: true},
		{name: "negative rotation", config: &Config{File: lumberjack.Logger{MaxAge: -1}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithDebugAndNilViper(t *testing.T) {
	c, err := NewConfig(WithDebug(true), WithDebug(false))
	require.NoError(t, err)
	assert.True(t, c.Debug)

	_, err = NewConfig(WithViper(nil))
	assert.EqualError(t, err, "nil Viper")
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(&Config{Output: "none", Format: "json", File: lumberjack.Logger{Filename: dir + "/out.log"}})
	require.NoError(t, err)
	ForZap(l).WithField("object", "gs://bkt/a").Info("uploaded")
	require.NoError(t, l.Sync())

	_, err = NewLogger(&Config{Format: "yaml"})
	assert.Error(t, err)
}
