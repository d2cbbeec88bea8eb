package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rugrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesWithDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
store:
  driver: sqlite
  sqlite_path: /tmp/rugrow.db
  rules:
    deny_read: ["plants/p3/**"]
dashboard:
  default_water_amount_ml: 300
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, ":9090", cfg.Server.Addr())
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, []string{"plants/p3/**"}, cfg.Store.Rules.DenyRead)
	assert.Equal(t, 300.0, cfg.Dashboard.DefaultWaterAmountML)
	assert.Equal(t, 2*time.Second, cfg.Dashboard.SettleTimeout)
	assert.Equal(t, 100, cfg.Writer.Capacity)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RUGROW_PORT", "7000")
	t.Setenv("RUGROW_STORE_DRIVER", "sqlite")
	t.Setenv("RUGROW_SQLITE_PATH", "/var/lib/rugrow.db")
	t.Setenv("LOGGING_LEVEL", "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "/var/lib/rugrow.db", cfg.Store.SQLitePath)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)

	t.Setenv("RUGROW_PORT", "eighty")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad port":       func(c *Config) { c.Server.Port = 0 },
		"bad driver":     func(c *Config) { c.Store.Driver = "firestore" },
		"no sqlite path": func(c *Config) { c.Store.Driver = DriverSQLite; c.Store.SQLitePath = "" },
		"no water":       func(c *Config) { c.Dashboard.DefaultWaterAmountML = 0 },
		"no settle":      func(c *Config) { c.Dashboard.SettleTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
