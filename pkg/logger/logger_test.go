package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) Logger {
	base := logrus.New()
	base.SetOutput(buf)
	base.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: true})
	base.SetLevel(logrus.DebugLevel)
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

func TestChildLoggersKeepFields(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf).
		WithComponent("solver").
		WithFields(Fields{"partition": "76.1|96.5", "candidates": 12}).
		WithError(errors.New("deadline"))

	log.Warn("time limit reached")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "solver", line["component"])
	assert.Equal(t, "76.1|96.5", line["partition"])
	assert.Equal(t, float64(12), line["candidates"])
	assert.Equal(t, "deadline", line["error"])
	assert.Equal(t, "time limit reached", line["msg"])
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"debug", *DebugConfig(), false},
		{"discard", Config{Level: InfoLevel, Format: JSONFormat, Output: DiscardOutput}, false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
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

func TestProgressTracker(t *testing.T) {
	tracker := NewProgressTracker(ProgressConfig{Operation: "partitions", Total: 4, Logger: NewNopLogger()})
	for i := 0; i < 3; i++ {
		tracker.Increment()
	}

	stats := tracker.GetStats()
	assert.Equal(t, int64(3), stats.Current)
	assert.InDelta(t, 75.0, stats.Percentage, 1e-9)
	assert.Contains(t, stats.String(), "partitions: 3/4")
	tracker.Complete()
}

func TestTimedOperation(t *testing.T) {
	boom := errors.New("boom")
	assert.NoError(t, TimedOperation("ok", NewNopLogger(), func() error { return nil }))
	assert.ErrorIs(t, TimedOperation("fail", NewNopLogger(), func() error { return boom }), boom)
}

func TestOperationLoggerWarning(t *testing.T) {
	var buf bytes.Buffer
	op := NewOperationLogger("parse_invoices", newBufferLogger(&buf))
	buf.Reset()

	op.WithField("error_count", 3).Warning("Encountered errors during parsing")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "parse_invoices", line["operation"])
	assert.Equal(t, float64(3), line["error_count"])
	assert.Equal(t, "Encountered errors during parsing", line["msg"])
}
