package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/tavern-phone/pkg/prompts"
)

func TestDefaultPreset(t *testing.T) {
	p := DefaultPreset()
	assert.Equal(t, 100, p.History.MaxMessages)
	for _, view := range prompts.Views {
		assert.NotEmpty(t, p.FormatGuide[view], "missing format guide for %s", view)
	}

	ids := map[string]bool{}
	for _, b := range p.Blocks {
		ids[b.ID] = b.Fixed
	}
	for _, id := range []string{prompts.BlockWorldbookBefore, prompts.BlockHistory, prompts.BlockWorldbookAfter, prompts.BlockCharacter, prompts.BlockPage, prompts.BlockFormat, prompts.BlockInput} {
		assert.True(t, ids[id], "fixed block %s missing", id)
	}
}

func TestParsePreset_Defaults(t *testing.T) {
	p, err := ParsePreset([]byte("name: bare"))
	require.NoError(t, err)
	assert.Equal(t, prompts.DefaultBlocks(), p.Blocks)
	assert.Equal(t, 100, p.History.MaxMessages)
	assert.NotNil(t, p.FormatGuide)

	_, err = ParsePreset([]byte("blocks: {"))
	assert.Error(t, err)
}

func TestPresetStore_CurrentIsACopy(t *testing.T) {
	s, err := NewPresetStore("", testLogger())
	require.NoError(t, err)

	p := s.Current()
	p.Blocks[0].Content = "changed"
	assert.NotEqual(t, "changed", s.Current().Blocks[0].Content)
}

func TestPresetStore_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preset.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: first"), 0o644))

	s, err := NewPresetStore(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "first", s.Current().Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchErr := make(chan error, 1)
	go func() { watchErr <- s.Watch(ctx) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("name: second"), 0o644))

	assert.Eventually(t, func() bool { return s.Current().Name == "second" }, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("blocks: {"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "second", s.Current().Name, "broken file keeps previous preset")

	cancel()
	assert.NoError(t, <-watchErr)
}

func TestNewPresetStore_MissingFile(t *testing.T) {
	_, err := NewPresetStore(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	assert.Error(t, err)
}
