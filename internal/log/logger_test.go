package log

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"firestige.xyz/duskq/internal/config"
)

func TestInitDefaultsToStdoutOnly(t *testing.T) {
	require.NoError(t, Init(config.LogConfig{Level: "info"}))
}

func TestInitWithFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LogConfig{Level: "debug"}
	cfg.File.Enabled = true
	cfg.File.Path = filepath.Join(dir, "duskq.log")
	require.NoError(t, Init(cfg))
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init(config.LogConfig{Level: "nope"}))
}

func TestInitRejectsMissingFilePath(t *testing.T) {
	cfg := config.LogConfig{Level: "info"}
	cfg.File.Enabled = true
	require.Error(t, Init(cfg))
}
