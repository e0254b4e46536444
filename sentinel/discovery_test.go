package sentinel

import (
	"testing"
	"time"

	"github.com/redwich/sentinel/redisconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuorum(t *testing.T) {
	assert.False(t, quorum(0, 0))
	assert.False(t, quorum(1, 3), "1 of 3 does not meet floor(3/2)+1=2")
	assert.True(t, quorum(2, 3))
	assert.True(t, quorum(3, 3))
	assert.True(t, quorum(1, 1))
	assert.False(t, quorum(0, 1))
}

func strReply(s string) redisconn.Reply { return redisconn.Reply{Kind: redisconn.ReplyString, Str: s} }

func hostsArrayReply(entries ...map[string]string) redisconn.Reply {
	var arr []redisconn.Reply
	for _, e := range entries {
		var fields []redisconn.Reply
		for k, v := range e {
			fields = append(fields, strReply(k), strReply(v))
		}
		arr = append(arr, redisconn.Reply{Kind: redisconn.ReplyArray, Array: fields})
	}
	return redisconn.Reply{Kind: redisconn.ReplyArray, Array: arr}
}

func newDiscoveryTestPool(n int) (*Shard, map[string]*fakeConn) {
	byAddr := make(map[string]*fakeConn)
	pool := NewShard("pool", "g", false, fakeFactory(byAddr), zerolog.Nop())
	infos := make([]ConnectionInfo, n)
	for i := 0; i < n; i++ {
		infos[i] = ConnectionInfo{Host: "10.0.1.1", Port: 26379 + i}
	}
	pool.SetConnectionInfo(infos)
	return pool, byAddr
}

func TestReadSentinelsAppliesQuorumAndBuildsMasters(t *testing.T) {
	pool, byAddr := newDiscoveryTestPool(3)
	reply := hostsArrayReply(map[string]string{"name": "shard0", "ip": "10.0.0.1", "port": "6379"})
	for _, c := range byAddr {
		c.onCommand = func(args []string) (redisconn.Reply, bool) {
			if args[0] == "SENTINEL" && args[1] == "MASTERS" {
				return reply, true
			}
			// SENTINEL SLAVES <name>: no slaves configured.
			return redisconn.Reply{Kind: redisconn.ReplyArray}, true
		}
	}

	d := NewDiscoveryEngine(pool, NewSlotMap(zerolog.Nop()), NewShardInfo(zerolog.Nop()), []string{"shard0"}, time.Second, zerolog.Nop())
	masters, slaves, ok := d.ReadSentinels("")
	require.True(t, ok)
	require.Contains(t, masters, 0)
	assert.Equal(t, "10.0.0.1", masters[0][0].Host)
	assert.Equal(t, 6379, masters[0][0].Port)
	assert.Empty(t, slaves[0])
}

func TestReadSentinelsAbandonsOnQuorumFailure(t *testing.T) {
	pool, byAddr := newDiscoveryTestPool(3)
	i := 0
	for _, c := range byAddr {
		idx := i
		i++
		c.onCommand = func(args []string) (redisconn.Reply, bool) {
			if idx == 0 {
				return hostsArrayReply(map[string]string{"name": "shard0", "ip": "10.0.0.1", "port": "6379"}), true
			}
			return redisconn.Reply{}, false // simulate no reply from the other two
		}
	}

	d := NewDiscoveryEngine(pool, NewSlotMap(zerolog.Nop()), NewShardInfo(zerolog.Nop()), []string{"shard0"}, 50*time.Millisecond, zerolog.Nop())
	_, _, ok := d.ReadSentinels("")
	assert.False(t, ok, "only 1 of 3 replied: below floor(3/2)+1=2")
}

func clusterSlotsBlock(slotMin, slotMax int, masterHost string, masterPort int) redisconn.Reply {
	return redisconn.Reply{Kind: redisconn.ReplyArray, Array: []redisconn.Reply{
		{Kind: redisconn.ReplyInt, Int: int64(slotMin)},
		{Kind: redisconn.ReplyInt, Int: int64(slotMax)},
		{Kind: redisconn.ReplyArray, Array: []redisconn.Reply{
			{Kind: redisconn.ReplyString, Str: masterHost},
			{Kind: redisconn.ReplyInt, Int: int64(masterPort)},
		}},
	}}
}

func TestReadClusterHostsBuildsSlotIntervals(t *testing.T) {
	pool, byAddr := newDiscoveryTestPool(1)
	reply := redisconn.Reply{Kind: redisconn.ReplyArray, Array: []redisconn.Reply{
		clusterSlotsBlock(0, 100, "10.0.0.1", 7000),
		clusterSlotsBlock(101, 200, "10.0.0.2", 7001),
	}}
	for _, c := range byAddr {
		c.onCommand = func([]string) (redisconn.Reply, bool) { return reply, true }
	}

	slotMap := NewSlotMap(zerolog.Nop())
	d := NewDiscoveryEngine(pool, slotMap, NewShardInfo(zerolog.Nop()), nil, time.Second, zerolog.Nop())
	masters, _, intervals, ok := d.ReadClusterHosts("")
	require.True(t, ok)
	require.Len(t, intervals, 2)
	assert.Len(t, masters, 2)
	assert.False(t, d.ClusterModeFailed())
}

func TestReadClusterHostsDedupsAcrossResponders(t *testing.T) {
	pool, byAddr := newDiscoveryTestPool(3)
	reply := redisconn.Reply{Kind: redisconn.ReplyArray, Array: []redisconn.Reply{
		{Kind: redisconn.ReplyArray, Array: []redisconn.Reply{
			{Kind: redisconn.ReplyInt, Int: 0},
			{Kind: redisconn.ReplyInt, Int: 100},
			{Kind: redisconn.ReplyArray, Array: []redisconn.Reply{
				{Kind: redisconn.ReplyString, Str: "10.0.0.1"},
				{Kind: redisconn.ReplyInt, Int: 7000},
			}},
			{Kind: redisconn.ReplyArray, Array: []redisconn.Reply{
				{Kind: redisconn.ReplyString, Str: "10.0.0.2"},
				{Kind: redisconn.ReplyInt, Int: 7001},
			}},
		}},
	}}
	for _, c := range byAddr {
		c.onCommand = func([]string) (redisconn.Reply, bool) { return reply, true }
	}

	d := NewDiscoveryEngine(pool, NewSlotMap(zerolog.Nop()), NewShardInfo(zerolog.Nop()), nil, time.Second, zerolog.Nop())
	masters, slaves, intervals, ok := d.ReadClusterHosts("")
	require.True(t, ok)
	require.Len(t, intervals, 3, "one interval per responder, since intervals are not deduped")
	require.Len(t, masters, 1)
	assert.Len(t, masters[0], 1, "3 identical responders must not produce 3 copies of the same master")
	require.Len(t, slaves, 1)
	assert.Len(t, slaves[0], 1, "3 identical responders must not produce 3 copies of the same slave")
}

func TestReadClusterHostsDetectsClusterDisabled(t *testing.T) {
	pool, byAddr := newDiscoveryTestPool(1)
	for _, c := range byAddr {
		c.onCommand = func([]string) (redisconn.Reply, bool) {
			return redisconn.Reply{Kind: redisconn.ReplyError, ErrMsg: "ERR This instance has cluster support disabled"}, true
		}
	}

	d := NewDiscoveryEngine(pool, NewSlotMap(zerolog.Nop()), NewShardInfo(zerolog.Nop()), nil, time.Second, zerolog.Nop())
	_, _, _, ok := d.ReadClusterHosts("")
	assert.False(t, ok)
	assert.True(t, d.ClusterModeFailed())
}
