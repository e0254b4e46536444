package sentinel

import (
	"testing"

	"github.com/redwich/sentinel/redisconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardSetConnectionInfoConnectsAndCloses(t *testing.T) {
	byAddr := make(map[string]*fakeConn)
	sh := NewShard("shard0", "group", false, fakeFactory(byAddr), zerolog.Nop())

	changed := sh.SetConnectionInfo([]ConnectionInfo{
		{Host: "10.0.0.1", Port: 6379},
		{Host: "10.0.0.2", Port: 6379},
	})
	require.True(t, changed)
	assert.Equal(t, 2, sh.InstancesSize())

	// Idempotent for an unchanged set.
	changed = sh.SetConnectionInfo([]ConnectionInfo{
		{Host: "10.0.0.1", Port: 6379},
		{Host: "10.0.0.2", Port: 6379},
	})
	assert.False(t, changed)
	assert.Equal(t, 2, sh.InstancesSize())

	// Dropping one endpoint closes it and shrinks the set.
	changed = sh.SetConnectionInfo([]ConnectionInfo{{Host: "10.0.0.1", Port: 6379}})
	assert.True(t, changed)
	assert.Equal(t, 1, sh.InstancesSize())
	assert.True(t, byAddr["10.0.0.2:6379"].isClosed())
	assert.False(t, byAddr["10.0.0.1:6379"].isClosed())
}

func TestShardAsyncCommandRoundRobinsAndSkipsUnhealthy(t *testing.T) {
	byAddr := make(map[string]*fakeConn)
	sh := NewShard("shard0", "group", false, fakeFactory(byAddr), zerolog.Nop())
	sh.SetConnectionInfo([]ConnectionInfo{
		{Host: "10.0.0.1", Port: 6379},
		{Host: "10.0.0.2", Port: 6379},
		{Host: "10.0.0.3", Port: 6379},
	})
	for _, c := range byAddr {
		c.onCommand = func(args []string) (redisconn.Reply, bool) {
			return redisconn.Reply{Kind: redisconn.ReplyStatus, Str: "OK"}, true
		}
	}
	byAddr["10.0.0.2:6379"].setState(redisconn.StateDisconnected)

	var idx int
	ok := sh.AsyncCommand([]string{"GET", "x"}, func(redisconn.Reply) {}, -1, &idx)
	require.True(t, ok)
	assert.Equal(t, 0, idx, "instance 0 is first healthy after prevIdx -1")

	ok = sh.AsyncCommand([]string{"GET", "x"}, func(redisconn.Reply) {}, idx, &idx)
	require.True(t, ok)
	assert.Equal(t, 2, idx, "instance 1 is down, so round-robin skips to instance 2")
}

func TestShardAsyncCommandNoHealthyInstance(t *testing.T) {
	byAddr := make(map[string]*fakeConn)
	sh := NewShard("shard0", "group", false, fakeFactory(byAddr), zerolog.Nop())
	sh.SetConnectionInfo([]ConnectionInfo{{Host: "10.0.0.1", Port: 6379}})
	byAddr["10.0.0.1:6379"].setState(redisconn.StateDisconnected)

	var idx int
	ok := sh.AsyncCommand([]string{"GET", "x"}, nil, -1, &idx)
	assert.False(t, ok)
}

func TestShardAsyncCommandAskingSendsAskingFirst(t *testing.T) {
	byAddr := make(map[string]*fakeConn)
	sh := NewShard("shard0", "group", false, fakeFactory(byAddr), zerolog.Nop())
	sh.SetConnectionInfo([]ConnectionInfo{{Host: "10.0.0.1", Port: 6379}})
	conn := byAddr["10.0.0.1:6379"]
	conn.onCommand = func(args []string) (redisconn.Reply, bool) {
		return redisconn.Reply{Kind: redisconn.ReplyStatus, Str: "OK"}, true
	}

	var idx int
	ok := sh.AsyncCommandAsking([]string{"GET", "x"}, func(redisconn.Reply) {}, -1, &idx)
	require.True(t, ok)

	require.Len(t, conn.sent, 2)
	assert.Equal(t, []string{"ASKING"}, conn.sent[0])
	assert.Equal(t, []string{"GET", "x"}, conn.sent[1])
}

func TestShardGetStatistics(t *testing.T) {
	byAddr := make(map[string]*fakeConn)
	sh := NewShard("shard0", "group", false, fakeFactory(byAddr), zerolog.Nop())
	sh.SetConnectionInfo([]ConnectionInfo{
		{Host: "10.0.0.1", Port: 6379},
		{Host: "10.0.0.2", Port: 6379},
	})
	byAddr["10.0.0.2:6379"].setState(redisconn.StateDisconnected)

	st := sh.GetStatistics()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Healthy)
}

func TestShardIsConnectedToAllServersDebug(t *testing.T) {
	byAddr := make(map[string]*fakeConn)
	sh := NewShard("shard0", "group", false, fakeFactory(byAddr), zerolog.Nop())

	assert.True(t, sh.IsConnectedToAllServersDebug(true))
	assert.False(t, sh.IsConnectedToAllServersDebug(false))

	sh.SetConnectionInfo([]ConnectionInfo{{Host: "10.0.0.1", Port: 6379}})
	assert.True(t, sh.IsConnectedToAllServersDebug(false))

	byAddr["10.0.0.1:6379"].setState(redisconn.StateDisconnected)
	assert.False(t, sh.IsConnectedToAllServersDebug(false))
}

func TestShardCleanClosesAllInstances(t *testing.T) {
	byAddr := make(map[string]*fakeConn)
	sh := NewShard("shard0", "group", false, fakeFactory(byAddr), zerolog.Nop())
	sh.SetConnectionInfo([]ConnectionInfo{
		{Host: "10.0.0.1", Port: 6379},
		{Host: "10.0.0.2", Port: 6379},
	})

	sh.Clean()
	assert.Equal(t, 0, sh.InstancesSize())
	for _, c := range byAddr {
		assert.True(t, c.isClosed())
	}
}
