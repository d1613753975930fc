package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{
			name:    "defaults",
			cfg:     DefaultLogConfig(),
			wantErr: false,
		},
		{
			name:    "console format",
			cfg:     LogConfig{Level: "debug", Format: "console", Output: "stderr"},
			wantErr: false,
		},
		{
			name:    "invalid level",
			cfg:     LogConfig{Level: "loud", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			logger.Info("hello", String("k", "v"))
		})
	}
}

func TestLoggerWith(t *testing.T) {
	logger := NopLogger()
	child := logger.With(String("component", "test"))
	require.NotNil(t, child)
	child.Debug("noop")
	assert.NoError(t, child.Sync())
}
