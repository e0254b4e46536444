package sentinel

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApiTestSentinel(t *testing.T, clusterMode bool) *Sentinel {
	t.Helper()
	s, err := NewSentinel(Config{
		ClusterMode: clusterMode,
		Shards:      []string{"shard0"},
		Conns:       []ConnectionInfo{{Host: "127.0.0.1", Port: 26379}},
		ConnFactory: fakeFactory(make(map[string]*fakeConn)),
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestGetAnyKeyForShardRequiresClusterMode(t *testing.T) {
	s := newApiTestSentinel(t, false)
	_, err := s.GetAnyKeyForShard(0)
	assert.Equal(t, ErrClusterOnlyAPI, err)
}

func TestGetAnyKeyForShardRoundTrips(t *testing.T) {
	s := newApiTestSentinel(t, true)
	s.slotMap.UpdateSlots([]ShardInterval{
		{SlotMin: 0, SlotMax: 100, Shard: 0},
		{SlotMin: 101, SlotMax: 200, Shard: 1},
	})

	key, err := s.GetAnyKeyForShard(1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ShardByKey(key), "the generated key must actually route back to the requested shard")
}

func TestGetAnyKeyForShardNoSlotOwned(t *testing.T) {
	s := newApiTestSentinel(t, true)
	s.slotMap.UpdateSlots([]ShardInterval{{SlotMin: 0, SlotMax: NumSlots - 1, Shard: 0}})

	_, err := s.GetAnyKeyForShard(7)
	assert.Equal(t, ErrNoKeyForShard, err)
}

func TestGenerateKeysForShardsRequiresClusterMode(t *testing.T) {
	s := newApiTestSentinel(t, false)
	_, err := s.GenerateKeysForShards()
	assert.Equal(t, ErrClusterOnlyAPI, err)
}

func TestGenerateKeysForShardsOneKeyPerShard(t *testing.T) {
	s := newApiTestSentinel(t, true)
	s.slotMap.UpdateSlots([]ShardInterval{
		{SlotMin: 0, SlotMax: 100, Shard: 0},
		{SlotMin: 101, SlotMax: 200, Shard: 1},
		{SlotMin: 201, SlotMax: 300, Shard: 2},
	})

	keys, err := s.GenerateKeysForShards()
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for shard, key := range keys {
		assert.Equal(t, shard, s.ShardByKey(key))
	}
}

func TestWaitConnectedOnceOutOfRange(t *testing.T) {
	s := newApiTestSentinel(t, false)
	err := s.WaitConnectedOnce(99, time.Now().Add(time.Second), WaitMaster, true)
	assert.Equal(t, ErrShardOutOfRange, err)
}

func TestWaitConnectedOnceTimesOutWithThrowOnFail(t *testing.T) {
	s := newApiTestSentinel(t, false)
	err := s.WaitConnectedOnce(0, time.Now().Add(20*time.Millisecond), WaitMaster, true)
	assert.Equal(t, ErrClientNotConnected, err)
}

func TestWaitConnectedOnceTimesOutWithoutThrowOnFail(t *testing.T) {
	s := newApiTestSentinel(t, false)
	err := s.WaitConnectedOnce(0, time.Now().Add(20*time.Millisecond), WaitMaster, false)
	assert.NoError(t, err)
}

func TestWaitConnectedOnceSucceedsOnceReady(t *testing.T) {
	s := newApiTestSentinel(t, false)
	s.connectedStatus[0].SetMasterReady(true)
	err := s.WaitConnectedOnce(0, time.Now().Add(time.Second), WaitMaster, true)
	assert.NoError(t, err)
}

func TestShardStatsOutOfRange(t *testing.T) {
	s := newApiTestSentinel(t, false)
	_, _, err := s.ShardStats(5)
	assert.Equal(t, ErrShardOutOfRange, err)
}

func TestShardStatsReflectsConnectionInfo(t *testing.T) {
	s := newApiTestSentinel(t, false)
	s.masterShards[0].SetConnectionInfo([]ConnectionInfo{{Host: "10.0.0.1", Port: 6379}})

	master, slave, err := s.ShardStats(0)
	require.NoError(t, err)
	assert.Equal(t, 1, master.Total)
	assert.Equal(t, 0, slave.Total)
}

func TestTopologySnapshotReportsMode(t *testing.T) {
	cluster := newApiTestSentinel(t, true)
	assert.Equal(t, "cluster", cluster.TopologySnapshot().Mode)

	sentinelMode := newApiTestSentinel(t, false)
	assert.Equal(t, "sentinel", sentinelMode.TopologySnapshot().Mode)
}

func TestStatsSnapshotIsMonotonic(t *testing.T) {
	s := newApiTestSentinel(t, false)
	first := s.Stats()
	s.stats.incDelivered()
	s.stats.incMoved()
	second := s.Stats()

	assert.GreaterOrEqual(t, second.Delivered, first.Delivered)
	assert.GreaterOrEqual(t, second.Moved, first.Moved)
	assert.Equal(t, first.Delivered+1, second.Delivered)
	assert.Equal(t, first.Moved+1, second.Moved)
}
