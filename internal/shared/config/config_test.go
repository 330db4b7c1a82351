package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DataModeMock, cfg.Data.Mode)
	assert.Equal(t, "memory", cfg.Data.AuditBackend)
	assert.Equal(t, "local", cfg.Lock.Backend)
	assert.Equal(t, 25*time.Second, cfg.Recommender.Timeout)
	assert.Equal(t, "/admission/recommend", cfg.Recommender.Path)
	assert.True(t, cfg.Policy.CriticalReviewOnFallback)
	assert.Equal(t, int32(25), cfg.Database.MaxConns)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATA_MODE", "live")
	t.Setenv("AUDIT_BACKEND", "postgres")
	t.Setenv("RECOMMENDER_TIMEOUT", "3s")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOCK_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DataModeLive, cfg.Data.Mode)
	assert.Equal(t, "postgres", cfg.Data.AuditBackend)
	assert.Equal(t, 3*time.Second, cfg.Recommender.Timeout)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Lock.Backend)
}

func TestLoad_RejectsUnknownMode(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATA_MODE", "supabase")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "care", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=care sslmode=disable", d.DSN())
}
