package log

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestInitLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tests := []struct {
		env, level string
		want       zerolog.Level
	}{
		{"production", "", zerolog.InfoLevel},
		{"development", "", zerolog.DebugLevel},
		{"production", "warn", zerolog.WarnLevel},
		{"development", "error", zerolog.ErrorLevel},
		{"production", "nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		Init(tt.env, tt.level)
		assert.Equal(t, tt.want, zerolog.GlobalLevel(), "env=%s level=%s", tt.env, tt.level)
	}
}
