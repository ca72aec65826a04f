package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Retrieval.Timeout, cfg.Retrieval.Timeout)
	assert.Equal(t, 0.1, cfg.Brain.DecayRate)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
brain:
  decay_rate: 0.2
  max_spread_hops: 6
retrieval:
  timeout: 2s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Brain.DecayRate)
	assert.Equal(t, 6, cfg.Brain.MaxSpreadHops)
	assert.Equal(t, 2*time.Second, cfg.Retrieval.Timeout)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Store.MaxReaders, cfg.Store.MaxReaders)
}

func TestLoadMalformedFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("brain: ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("brain:\n  decay_rate: 0.2\n"), 0o644))

	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Stop()
	assert.Equal(t, 0.2, m.Get().Brain.DecayRate)

	changed := make(chan *Config, 1)
	m.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	require.NoError(t, m.Watch())

	require.NoError(t, os.WriteFile(path, []byte("brain:\n  decay_rate: 0.3\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 0.3, cfg.Brain.DecayRate)
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not fire")
	}
}

func TestManagerKeepsSnapshotOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("brain:\n  decay_rate: 0.2\n"), 0o644))

	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Stop()

	m.reload() // no-op, file unchanged
	require.NoError(t, os.WriteFile(path, []byte("brain: ["), 0o644))
	m.reload()
	assert.Equal(t, 0.2, m.Get().Brain.DecayRate, "malformed reload keeps the old snapshot")
}
