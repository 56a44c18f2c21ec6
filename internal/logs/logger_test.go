package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("trace"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("loud"))
}

func TestSetupLoggerRequiresOutput(t *testing.T) {
	_, err := SetupLogger(&config.LogConfig{Level: "info"})
	assert.Error(t, err)
}

func TestToolLoggerWritesFileAndTail(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.LogDir = t.TempDir()
	cfg.EnableConsole = false
	cfg.Compress = false

	logger, err := CreateToolLogger(cfg, zap.NewNop(), "com.example/demo")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		logger.Info(fmt.Sprintf("line %d", i))
	}
	require.NoError(t, logger.Sync())

	path := filepath.Join(cfg.LogDir, "tool-com.example_demo.log")
	_, err = os.Stat(path)
	require.NoError(t, err)

	tail, err := ReadToolLogTail(cfg, "com.example/demo", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Contains(t, tail[1], "line 4")
	assert.Contains(t, tail[1], "com.example/demo")
}

func TestReadToolLogTailMissingFile(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.LogDir = t.TempDir()
	lines, err := ReadToolLogTail(cfg, "nothing", 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
