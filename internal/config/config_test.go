package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeSites(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.yml")
	require.NoError(t, os.WriteFile(path, []byte("sites:\n  TRK-1:\n    id: site-1\n"), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SITES_CONFIG_PATH", writeSites(t))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.IngestAddr)
	require.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "visits.recorded", cfg.KafkaTopicVisits)
	require.Equal(t, 2*time.Minute, cfg.PageVisitWindow)
	require.Equal(t, 15*time.Second, cfg.HeartbeatWindow)
	require.Equal(t, 30*time.Minute, cfg.SessionIdle)
	require.Equal(t, 1500*time.Millisecond, cfg.ProviderTimeout)
	require.Equal(t, 1, cfg.Sites.Len())
	require.Nil(t, cfg.TrustedProxies)
	require.Equal(t, []string{"*"}, cfg.CORSAllowOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SITES_CONFIG_PATH", writeSites(t))
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("DEDUP_HEARTBEAT_WINDOW_MS", "5000")
	t.Setenv("LOADER_BATCH_SIZE", "oops")
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8 ,,172.16.0.1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 5*time.Second, cfg.HeartbeatWindow)
	require.Equal(t, 1000, cfg.BatchSize)
	require.Equal(t, []string{"10.0.0.0/8", "172.16.0.1"}, cfg.TrustedProxies)
}

func TestLoadMissingSites(t *testing.T) {
	t.Setenv("SITES_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yml"))
	_, err := Load()
	require.ErrorContains(t, err, "load sites config")
}
