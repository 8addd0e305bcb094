package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/asakaida/chronicle/internal/infrastructure/config"
	"github.com/stretchr/testify/require"
)

func TestMake_Writer(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	log, err := New().FromWriter(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, log)

	require.Equal(t, 0, buff.Len())
	log.Logger.Info().Str("record", "document#1").Msg("Test")
	require.Contains(t, buff.String(), `"message":"Test"`)
	require.Contains(t, buff.String(), `"record":"document#1"`)
	require.Contains(t, buff.String(), `"time":`)
}

func TestMake_Level(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	log, err := New().FromWriter(buff).WithLevel("warn").Make()
	require.NoError(t, err)

	log.Logger.Info().Msg("hidden")
	require.Equal(t, 0, buff.Len())

	log.Logger.Warn().Msg("shown")
	require.Contains(t, buff.String(), "shown")
}

func TestMake_InvalidLevel(t *testing.T) {
	_, err := New().WithLevel("loud").Make()
	require.Error(t, err)
}

func TestFromConfig_Path(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chronicle.log")
	log, err := FromConfig(config.LogConfig{Level: "debug", Path: path}).Make()
	require.NoError(t, err)
	require.NotNil(t, log.LogFile)

	log.Logger.Debug().Msg("to file")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "to file")
}
