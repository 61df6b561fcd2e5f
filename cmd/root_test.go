package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand("1.2.3")
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "ml-bling-sync 1.2.3\n", out.String())
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand("dev")

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "api", "worker", "migrate", "sweep", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestMigrateCommand_RejectsDirection(t *testing.T) {
	root := NewRootCommand("dev")
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "sideways"})

	assert.Error(t, root.Execute())
}

func TestLoadConfig_FlagAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))
	t.Setenv("SYNC_DEBUG", "true")

	rt := &runtime{v: viper.New(), version: "dev"}
	root := newRootCommand(rt)
	require.NoError(t, root.PersistentFlags().Parse([]string{"--config", path, "--port", "9100"}))

	cfg, err := rt.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Service.Debug)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_FileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))
	t.Setenv("SYNC_CONFIG", path)

	rt := &runtime{v: viper.New(), version: "dev"}
	newRootCommand(rt)

	cfg, err := rt.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.False(t, cfg.Service.Debug)
}
