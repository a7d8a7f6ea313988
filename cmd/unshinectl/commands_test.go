package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UnShiney/server/internal/dataset"
	"UnShiney/server/internal/training"
)

func writePNG(t *testing.T, dir, name string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644))
}

func TestPairCommand(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png", "c.png"} {
		writePNG(t, dir, name)
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"pair", dir})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "a.png -> b.png")
	assert.Contains(t, out.String(), "one file left unpaired")
	assert.Contains(t, out.String(), "3 files, 1 pairs")
}

func TestImportCommandWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.png", "2.png", "3.png", "4.png"} {
		writePNG(t, dir, name)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "5.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "6.txt"), []byte("y"), 0644))
	output := filepath.Join(t.TempDir(), "out.json")

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"import", dir, "-o", output})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "skipped:")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	pairs, err := dataset.ParsePairs(data)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}

func TestSimulateRunsToCompletion(t *testing.T) {
	var bar bytes.Buffer
	run, err := simulate(&bar, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, training.StateCompleted, run.State)
	assert.Equal(t, 3, run.CurrentEpoch)

	_, err = simulate(&bar, 0, time.Millisecond)
	assert.Error(t, err)
}

func TestPresetsCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printPresets(&out))
	for _, name := range []string{"dense", "conv", "hybrid", "custom"} {
		assert.Contains(t, out.String(), name)
	}
}
