package pkg

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleWriter(t *testing.T) {
	t.Setenv(DebugEnv, "")

	buf := new(bytes.Buffer)
	logger := zerolog.New(NewConsoleWriterTo(buf, false))

	logger.Info().Str("task", "build").Str("app", "initproc").Msg("linking at 0x80400000")
	assert.Equal(t, "build: initproc: linking at 0x80400000\n", buf.String())

	buf.Reset()
	logger.Error().Err(eris.New("exit status 101")).Msg("build failed")
	assert.Contains(t, buf.String(), "Error: build failed\n")
	assert.Contains(t, buf.String(), "exit status 101")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestConsoleWriterDebug(t *testing.T) {
	t.Setenv(DebugEnv, "1")

	buf := new(bytes.Buffer)
	logger := zerolog.New(NewConsoleWriterTo(buf, false))
	logger.Debug().Str("base", "0x80420000").Msg("building")

	assert.Contains(t, buf.String(), "  base: 0x80420000\n")
	assert.Contains(t, buf.String(), "  level: debug\n")
}

func TestConsoleWriterRejectsGarbage(t *testing.T) {
	_, err := NewConsoleWriterTo(new(bytes.Buffer), false).Write([]byte("not json"))
	assert.Error(t, err)
}

func TestLogFallback(t *testing.T) {
	// no logger attached, events are dropped
	Log(context.Background()).Info().Msg("ignored")

	buf := new(bytes.Buffer)
	logger := zerolog.New(buf)
	ctx := WithLogger(context.Background(), &logger)
	Log(ctx).Info().Msg("kept")
	assert.Contains(t, buf.String(), `"message":"kept"`)
}

func TestFindUpward(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "marker"), nil, 0644))

	path, err := FindUpward(nested, "missing", "marker")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "marker"), path)

	path, err = FindUpward(nested, "missing")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestPrintHelpers(t *testing.T) {
	buf := new(bytes.Buffer)
	PrintTask(buf, "Applications")
	PrintSubtask(buf, "initproc")
	PrintError(buf, "ushell: image not found")

	assert.Contains(t, buf.String(), "==>")
	assert.Contains(t, buf.String(), "initproc")
	assert.Contains(t, buf.String(), "ushell: image not found")
}
