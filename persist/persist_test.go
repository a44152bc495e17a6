package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesEngineIDOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "engine.boots"))

	state, err := store.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 1, state.Boots)
	assert.Len(t, state.EngineID, EngineIDLength)
}

func TestLoadIncrementsBootsAndKeepsEngineIDStable(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "engine.boots"))

	first, err := store.Load()
	require.NoError(t, err)

	second, err := store.Load()
	require.NoError(t, err)
	assert.EqualValues(t, first.Boots+1, second.Boots)
	assert.Equal(t, first.EngineID, second.EngineID)

	third, err := store.Load()
	require.NoError(t, err)
	assert.EqualValues(t, second.Boots+1, third.Boots)
	assert.Equal(t, first.EngineID, third.EngineID)
}

func TestLoadClampsNonPositiveBootsToOne(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.boots")
	store := NewStore(path)

	// Seed a corrupt-looking file with boots = -5 and a fixed engine ID.
	engineID := []byte{0x80, 0x00, 0x1f, 0x88, 0x01, 0x02, 0x03, 0x04}
	seed := &State{Boots: -5, EngineID: engineID}
	require.NoError(t, store.write(seed))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 1, loaded.Boots)
	assert.Equal(t, engineID, loaded.EngineID)
}
