package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steladb/stela/configs"
	"github.com/steladb/stela/internal/config"
)

// runConfig executes a config subcommand and returns its stdout.
func runConfig(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newConfigCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestConfigCmd_Subcommands(t *testing.T) {
	// Given: the config command
	cmd := newConfigCmd()

	// Then: init, show, and path resolve
	for _, name := range []string{"init", "show", "path"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestConfigInit_CreatesUserConfig(t *testing.T) {
	// Given: a home with no user config
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	// When: running config init
	output := runConfig(t, "init")

	// Then: the template lands at the XDG path
	assert.Contains(t, output, "Created user configuration")
	data, err := os.ReadFile(filepath.Join(tmp, "stela", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, configs.UserConfigTemplate, string(data))
}

func TestConfigInit_DoesNotClobberWithoutForce(t *testing.T) {
	// Given: an existing user config with local edits
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	path := filepath.Join(tmp, "stela", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	// When: running config init without --force
	output := runConfig(t, "init")

	// Then: the file is untouched and the user is told about --force
	assert.Contains(t, output, "already exists")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "log:\n  level: debug\n", string(data))
}

func TestConfigInit_ForceReplacesAndBacksUp(t *testing.T) {
	// Given: an existing user config with local edits
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	path := filepath.Join(tmp, "stela", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	// When: running config init --force
	output := runConfig(t, "init", "--force")

	// Then: the template replaces the file and a backup keeps the edits
	assert.Contains(t, output, "Backup:")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, configs.UserConfigTemplate, string(data))

	backups, err := config.ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	backup, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "log:\n  level: debug\n", string(backup))
}

func TestConfigInitServer_WritesLocalFile(t *testing.T) {
	// Given: an empty working directory
	tmp := t.TempDir()
	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmp))
	defer func() { _ = os.Chdir(oldDir) }()

	// When: running config init --server
	output := runConfig(t, "init", "--server")

	// Then: stela.yaml appears in the working directory
	assert.Contains(t, output, "Created server configuration")
	data, err := os.ReadFile(filepath.Join(tmp, "stela.yaml"))
	require.NoError(t, err)
	assert.Equal(t, configs.ServerConfigTemplate, string(data))
}

func TestConfigPath_PrintsUserConfigPath(t *testing.T) {
	// Given: a known XDG home
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	// When: running config path
	output := runConfig(t, "path")

	// Then: the XDG path is printed
	assert.Contains(t, output, filepath.Join(tmp, "stela", "config.yaml"))
}

func TestConfigShow_Defaults(t *testing.T) {
	// When: showing the hardcoded defaults
	output := runConfig(t, "show", "--source", "defaults")

	// Then: the YAML dump carries the default keys
	assert.Contains(t, output, "defaults (hardcoded)")
	assert.Contains(t, output, "data_dir:")
	assert.Contains(t, output, "addr: 127.0.0.1:7700")
}

func TestConfigShow_DefaultsJSON(t *testing.T) {
	// When: showing defaults as JSON
	output := runConfig(t, "show", "--source", "defaults", "--json")

	// Then: the output parses back into a config
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(output), &cfg))
	assert.Equal(t, config.NewConfig().HTTP.Addr, cfg.HTTP.Addr)
}

func TestConfigShow_MissingUserConfigIsAHint(t *testing.T) {
	// Given: no user config
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	// When: showing the user source
	output := runConfig(t, "show", "--source", "user")

	// Then: the command hints at init instead of failing
	assert.Contains(t, output, "No user configuration file found")
	assert.Contains(t, output, "stela config init")
}

func TestConfigShow_InvalidSource(t *testing.T) {
	// Given: an unknown source name
	cmd := newConfigCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show", "--source", "bogus"})

	// When: executing
	err := cmd.Execute()

	// Then: the source is rejected with the valid choices
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source")
}
