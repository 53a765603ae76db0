package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelByEnvironment(t *testing.T) {
	tests := []struct {
		env       string
		wantDebug bool
	}{
		{"development", true},
		{"dev", true},
		{"production", false},
		{"staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewWithWriter(tt.env, &buf)

			l.Debug().Msg("debug line")
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug line")))

			l.Info().Str("component", "test").Msg("info line")
			assert.Contains(t, buf.String(), `"component":"test"`)
			assert.Contains(t, buf.String(), `"time":`)
		})
	}
}
