package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	t.Setenv("MONGODB_DATABASE", "jotion_test")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("JWT_SECRET", "testsecret123456789012345678901234")
	t.Setenv("CASCADE_MODE", "SYNC")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "mongodb://localhost:27017/testdb", cfg.MongoDB.URI)
	require.Equal(t, "jotion_test", cfg.MongoDB.Database)
	require.Equal(t, "documents", cfg.MongoDB.Collection)
	require.Equal(t, "localhost:6380", cfg.Redis.Addr())
	require.Equal(t, CascadeSync, cfg.Cascade.Mode)
	require.Equal(t, 4, cfg.Cascade.Workers)
	require.Equal(t, time.Hour, cfg.Cascade.JobTTL)
	require.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenTTL)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("REDIS_HOST", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Empty(t, cfg.MongoDB.URI)
	require.Empty(t, cfg.Redis.Addr())
	require.Equal(t, CascadeAsync, cfg.Cascade.Mode)
	require.Equal(t, "5001", cfg.Server.Port)
}

func TestLoadConfig_RejectsUnknownCascadeMode(t *testing.T) {
	t.Setenv("CASCADE_MODE", "eventually")
	_, err := LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CASCADE_MODE")
}

func TestKeycloakIssuer(t *testing.T) {
	k := KeycloakConfig{URL: "http://kc:8080/", Realm: "jotion"}
	require.Equal(t, "http://kc:8080/realms/jotion", k.Issuer())
	require.Equal(t, "http://kc/realms/x", KeycloakConfig{URL: "http://kc/realms/x"}.Issuer())
}
