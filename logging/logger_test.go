package logging

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "text format", cfg: Config{Level: "debug", Format: "text"}},
		{name: "stderr output", cfg: Config{Output: "stderr"}},
		{name: "bad level", cfg: Config{Level: "verbose"}, wantErr: true},
		{name: "bad format", cfg: Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burstd.log")
	logger, err := New(Config{Output: path, Format: "text"})
	require.NoError(t, err)
	logger.Info("hello")

	assert.FileExists(t, path)
}

func TestCaptureHandler(t *testing.T) {
	logger, capture := NewCaptureLogger()

	logger.Info("first", "k", 1)
	logger.With("component", "engine").Error("second")

	entries := capture.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, int64(1), entries[0].Attributes["k"])
	assert.Equal(t, "engine", entries[1].Attributes["component"])

	assert.Equal(t, []string{"second"}, capture.Messages(slog.LevelError))
}
