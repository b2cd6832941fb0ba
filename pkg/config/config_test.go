package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pvworks/floorsync/pkg/config"
)

func TestDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	opt := config.NewConfig()
	assert.Equal(t, "http://localhost:8080", opt.ServerURL)
	assert.Equal(t, filepath.Join(home, "floorsync", "floorsync.db"), opt.DatabasePath)
	assert.Equal(t, 5, opt.MaxRetries)
	assert.Equal(t, 30, opt.MaxAgeDays)
	assert.Empty(t, opt.StationID)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SERVER_URL", "http://mes.plant.local:9000")
	t.Setenv("DATABASE_PATH", "/tmp/queue.db")
	t.Setenv("STATION_ID", "ST-7")
	t.Setenv("SYNC_MAX_RETRIES", "8")
	t.Setenv("SYNC_MAX_AGE_DAYS", "14")

	opt := config.NewConfig()
	assert.Equal(t, "http://mes.plant.local:9000", opt.ServerURL)
	assert.Equal(t, "/tmp/queue.db", opt.DatabasePath)
	assert.Equal(t, "ST-7", opt.StationID)
	assert.Equal(t, 8, opt.MaxRetries)
	assert.Equal(t, 14, opt.MaxAgeDays)
}

func TestInvalidNumericEnvIsIgnored(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SYNC_MAX_RETRIES", "not-a-number")

	opt := config.NewConfig()
	assert.Equal(t, 5, opt.MaxRetries)
}
