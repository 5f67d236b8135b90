package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pointUserConfigAt redirects the user config location into a temp dir.
func pointUserConfigAt(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "stela", "config.yaml")
}

func TestBackupUserConfig_NoConfigIsNoop(t *testing.T) {
	pointUserConfigAt(t)

	path, err := BackupUserConfig()

	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupUserConfig_CreatesTimestampedCopy(t *testing.T) {
	// Given: an existing user config
	configPath := pointUserConfigAt(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte("data_dir: /srv/stela\n"), 0o644))

	// When: backing up
	backupPath, err := BackupUserConfig()

	// Then: the backup exists with the original content
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	assert.Contains(t, backupPath, BackupSuffix)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "data_dir: /srv/stela\n", string(data))
}

func TestBackupUserConfig_KeepsAtMostMaxBackups(t *testing.T) {
	configPath := pointUserConfigAt(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\n"), 0o644))

	// Backup timestamps have second resolution; spread them out
	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupUserConfig()
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)
	}

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestListUserConfigBackups_EmptyWithoutDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "nonexistent"))

	backups, err := ListUserConfigBackups()

	require.NoError(t, err)
	assert.Empty(t, backups)
}
