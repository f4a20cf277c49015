package cli

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"loud", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogHandler(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(newLogHandler(buf, slog.LevelInfo, true))

	logger.Debug("hidden")
	logger.Info("entity saved", "type", "person", "note", "", "retry_in", time.Duration(0))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "entity saved")
	assert.Contains(t, out, "type=person")
	assert.NotContains(t, out, "note=")
	assert.NotContains(t, out, "retry_in=")
	assert.NotContains(t, out, "\x1b[", "no colour codes when colour is off")
}
