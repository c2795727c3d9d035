package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchnova/vmsync/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "last_sync")
	want := Marker{LastSync: time.Unix(1700000000, 0).UTC(), Direction: LaptopToVM, RunID: "abc"}

	require.NoError(t, Write(path, want))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "last_sync=1700000000\ndirection=laptop_to_vm\nrun_id=abc\n", string(data))
}

func TestMarker_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "last_sync"))
	assert.ErrorIs(t, err, ErrNoMarker)
}

func TestMarker_LegacyAndMalformed(t *testing.T) {
	dir := t.TempDir()

	legacy := filepath.Join(dir, "legacy")
	require.NoError(t, os.WriteFile(legacy, []byte("last_sync=42\ndirection=vm_to_laptop\nextra=1\n"), 0o644))
	m, err := Read(legacy)
	require.NoError(t, err)
	assert.EqualValues(t, 42, m.LastSync.Unix())
	assert.Equal(t, VMToLaptop, m.Direction)
	assert.Empty(t, m.RunID)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("last_sync=yesterday\n"), 0o644))
	_, err = Read(bad)
	assert.Error(t, err)
}

func TestDirectionLabel(t *testing.T) {
	label, err := DirectionLabel(planner.LocalToRemote)
	require.NoError(t, err)
	assert.Equal(t, LaptopToVM, label)

	label, err = DirectionLabel(planner.RemoteToLocal)
	require.NoError(t, err)
	assert.Equal(t, VMToLaptop, label)

	_, err = DirectionLabel(planner.Noop)
	assert.Error(t, err)
}
