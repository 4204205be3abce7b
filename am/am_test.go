package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hydrotrace/errors"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Workspace.Path = "/data/BCM.gdb"
	cfg.Network.Path = "/data/NHDPlus.gdb/Hydrography/HydroNet_Trace"
	cfg.Pulse.Workers = 2
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Pulse.Workers)
	assert.Equal(t, "*_0", cfg.Trace.SeedWildcard)
	assert.Equal(t, "Starting_NHDPlusID", cfg.Trace.IdentifierField)
	assert.Equal(t, "NHDPlusID", cfg.Trace.JoinKey)
	assert.Equal(t, "tempTrace_", cfg.Trace.OutputPrefix)
	assert.Equal(t, "trace_", cfg.Trace.StorePrefix)
	assert.Equal(t, 32618, cfg.Output.SpatialReference)
	assert.Equal(t, 0, cfg.Aggregate.CooldownSeconds)
}

func TestDerivedPaths(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, filepath.Join("/data", "temp_dir"), cfg.ScratchRoot())
	assert.Equal(t, filepath.Join("/data", "trace_outputs"), cfg.ResultsRoot())
	assert.Equal(t, "/data/BCM.gdb", cfg.AggregateTarget())
	assert.Equal(t, filepath.Join("/data", "trace_outputs", LedgerFileName), cfg.LedgerPath())
	assert.Equal(t, ".", cfg.LogDir())

	cfg.Pulse.ScratchDir = "/scratch"
	cfg.Pulse.ResultsDir = "/results"
	cfg.Aggregate.Target = "/data/AllTraceOutputs.gdb"
	assert.Equal(t, "/scratch", cfg.ScratchRoot())
	assert.Equal(t, "/results", cfg.ResultsRoot())
	assert.Equal(t, "/data/AllTraceOutputs.gdb", cfg.AggregateTarget())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing workspace", func(c *Config) { c.Workspace.Path = "" }, true},
		{"missing network", func(c *Config) { c.Network.Path = "" }, true},
		{"zero workers", func(c *Config) { c.Pulse.Workers = 0 }, true},
		{"negative dispatch rate", func(c *Config) { c.Pulse.DispatchPerSecond = -1 }, true},
		{"bad wildcard", func(c *Config) { c.Trace.SeedWildcard = "[" }, true},
		{"empty join key", func(c *Config) { c.Trace.JoinKey = "" }, true},
		{"negative cooldown", func(c *Config) { c.Aggregate.CooldownSeconds = -5 }, true},
		{"negative retries", func(c *Config) { c.Aggregate.MaxRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := validConfig()
	cfg.Workspace.AOI = "HUC_0204"
	require.NoError(t, Save(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Workspace, loaded.Workspace)
	assert.Equal(t, cfg.Network, loaded.Network)
	assert.Equal(t, 2, loaded.Pulse.Workers)
	assert.Equal(t, cfg.Trace, loaded.Trace)

	// Saving again rotates the previous file into .back1
	cfg.Pulse.Workers = 8
	require.NoError(t, Save(cfg, path))
	_, err = os.Stat(path + ".back1")
	require.NoError(t, err)

	reloaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, reloaded.Pulse.Workers)
}

func TestMergeConfigFilesPrecedence(t *testing.T) {
	dir := t.TempDir()
	system := filepath.Join(dir, "system.toml")
	project := filepath.Join(dir, "project.toml")
	require.NoError(t, os.WriteFile(system, []byte("[pulse]\nworkers = 2\n[trace]\nseed_wildcard = \"*_split\"\n"), DefaultFilePermissions))
	require.NoError(t, os.WriteFile(project, []byte("[pulse]\nworkers = 6\n"), DefaultFilePermissions))

	v := viper.New()
	SetDefaults(v)
	mergeConfigFiles(v, []string{system, filepath.Join(dir, "missing.toml"), project})

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Pulse.Workers)
	assert.Equal(t, "*_split", cfg.Trace.SeedWildcard)
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "project", "subdir")
	require.NoError(t, os.MkdirAll(subDir, DefaultDirPermissions))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "project", ConfigFileName), []byte(""), DefaultFilePermissions))

	t.Chdir(subDir)

	result := findProjectConfig()
	require.NotEmpty(t, result)
	assert.True(t, filepath.IsAbs(result))
	assert.Equal(t, ConfigFileName, filepath.Base(result))
}
