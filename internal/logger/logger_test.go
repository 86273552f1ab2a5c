package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var out, errOut bytes.Buffer
	log := NewLoggerTo(&out, &errOut, INFO)

	log.Debug("hidden %d", 1)
	log.Trace("hidden too")
	log.Info("visible %s", "info")
	log.Warn("careful")
	log.Success("found it")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "[INFO] ")
	assert.Contains(t, out.String(), "visible info")
	assert.Contains(t, out.String(), "[SUCCESS] ")
	assert.Contains(t, errOut.String(), "[WARN] ")
	assert.NotContains(t, out.String(), "careful")

	log.SetMinLevel(TRACE)
	log.Trace("now shown")
	assert.Contains(t, out.String(), "now shown")
	assert.True(t, log.Enabled(TRACE))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{" INFO ", INFO, false},
		{"warning", WARN, false},
		{"trace", TRACE, false},
		{"loud", INFO, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.False(t, log.Enabled(SUCCESS))
	log.Error("nothing happens")
}
