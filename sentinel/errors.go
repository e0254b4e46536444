package sentinel

import "errors"

// ErrNoShardsConfigured is returned by NewSentinel when Config.Shards is empty.
var ErrNoShardsConfigured = errors.New("sentinel: no shards configured")

// ErrNoSentinelConns is returned by NewSentinel when Config.Conns is empty.
var ErrNoSentinelConns = errors.New("sentinel: no sentinel connections configured")

// ErrClientNotConnected is thrown by WaitConnectedOnce under throw_on_fail
// semantics when the deadline passes before readiness (spec.md §5, §7).
var ErrClientNotConnected = errors.New("sentinel: client not connected within deadline")

// ErrClusterOnlyAPI is returned by API methods documented as cluster-only
// when called while the orchestrator is not in cluster mode (spec.md §7,
// SPEC_FULL §3's GenerateKeysForShards/GetAnyKeyForShard).
var ErrClusterOnlyAPI = errors.New("sentinel: this operation is only available in cluster mode")

// ErrShardOutOfRange is returned when a shard index argument does not name
// a configured shard.
var ErrShardOutOfRange = errors.New("sentinel: shard index out of range")

// ErrNoKeyForShard is returned by GetAnyKeyForShard when the slot table
// presently has no slot mapped to the requested shard.
var ErrNoKeyForShard = errors.New("sentinel: no slot presently maps to this shard")
