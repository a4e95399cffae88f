package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel_KnownAndUnknown(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, zerolog.Disabled, parseLevel("disabled"))
}

func TestWithCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	ctx, id := WithCorrelationID(context.Background(), "")
	require.NotEmpty(t, id)
	assert.Equal(t, id, CorrelationID(ctx))

	ctx2, id2 := WithCorrelationID(ctx, "fixed-id")
	assert.Equal(t, "fixed-id", id2)
	assert.Equal(t, "fixed-id", CorrelationID(ctx2))
}

func TestCorrelationID_MissingReturnsEmpty(t *testing.T) {
	assert.Empty(t, CorrelationID(context.Background()))
	assert.Empty(t, CorrelationID(nil))
}

func TestRollingFileWriter_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detloc.log")

	writer := &rollingFileWriter{path: path, maxBytes: 64}
	require.NoError(t, writer.openLocked())
	defer writer.Close()

	line := []byte(strings.Repeat("x", 48) + "\n")
	_, err := writer.Write(line)
	require.NoError(t, err)
	_, err = writer.Write(line)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2, "expected current log plus at least one rotated file")
}

func TestNewRollingFileWriter_RefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.log")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))
	link := filepath.Join(dir, "link.log")
	require.NoError(t, os.Symlink(target, link))

	_, err := newRollingFileWriter(Config{FilePath: link})
	assert.Error(t, err)
}

func TestNewRollingFileWriter_EmptyPathDisabled(t *testing.T) {
	w, err := newRollingFileWriter(Config{})
	require.NoError(t, err)
	assert.Nil(t, w)
}
