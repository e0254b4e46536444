package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
shards:
  - shard0
  - shard1
conns:
  - host: 127.0.0.1
    port: 26379
client_name: test-client
track_masters: true
track_slaves: true
cluster_mode: false
check_interval: 3s
cluster_slots_timeout: 2s
snapshot:
  redis_addr: 127.0.0.1:6380
  interval: 10s
debug_ws:
  listen: ":8090"
nats:
  address: nats://127.0.0.1:4222
  cluster_id: test-cluster
  client_id: test-client
  subject: sentinel.events
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesFullDocument(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"shard0", "shard1"}, loaded.Sentinel.Shards)
	require.Len(t, loaded.Sentinel.Conns, 1)
	assert.Equal(t, "127.0.0.1", loaded.Sentinel.Conns[0].Host)
	assert.Equal(t, 26379, loaded.Sentinel.Conns[0].Port)
	assert.True(t, loaded.Sentinel.TrackMasters)
	assert.True(t, loaded.Sentinel.TrackSlaves)
	assert.Equal(t, 3*time.Second, loaded.Sentinel.CheckInterval)
	assert.Equal(t, 2*time.Second, loaded.Sentinel.ClusterSlotsTimeout)
	assert.Equal(t, "sentinel.events", loaded.Sentinel.NatsSubject)

	require.NotNil(t, loaded.Snapshot)
	assert.Equal(t, "127.0.0.1:6380", loaded.Snapshot.RedisAddr)
	assert.Equal(t, 10*time.Second, loaded.Snapshot.Interval.Duration)

	require.NotNil(t, loaded.DebugWS)
	assert.Equal(t, ":8090", loaded.DebugWS.Listen)

	require.NotNil(t, loaded.Nats)
	assert.Equal(t, "test-cluster", loaded.Nats.ClusterID)
}

func TestLoadOmitsOptionalSidecars(t *testing.T) {
	path := writeTempConfig(t, `
shards: [shard0]
conns:
  - host: 127.0.0.1
    port: 26379
`)
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, loaded.Snapshot)
	assert.Nil(t, loaded.DebugWS)
	assert.Nil(t, loaded.Nats)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeTempConfig(t, `
shards: [shard0]
conns:
  - host: 127.0.0.1
    port: 26379
check_interval: "not-a-duration"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDecodeInlineJSON(t *testing.T) {
	var out struct {
		Foo string `json:"foo"`
	}
	err := DecodeInlineJSON([]byte(`{"foo":"bar"}`), &out)
	require.NoError(t, err)
	assert.Equal(t, "bar", out.Foo)
}
