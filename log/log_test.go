package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNew_ParsesLevel(t *testing.T) {
	l := New("debug", false)
	require.Equal(t, zerolog.DebugLevel, l.GetLevel())

	l = New("bogus", false)
	require.Equal(t, zerolog.InfoLevel, l.GetLevel())

	l = New("", true)
	require.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestNewWithOptions_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracle.log")
	l := NewWithOptions(Options{Level: "info", Output: "file", File: path})
	l.Info().Str("component", "test").Msg("hello")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"hello"`)
}
