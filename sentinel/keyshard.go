package sentinel

import "hash/crc32"

// KeyShard is the pluggable key→shard-index function used once cluster mode
// is disabled, or after the orchestrator demotes itself out of cluster mode
// (spec.md's glossary entry for KeyShard).
type KeyShard interface {
	ShardByKey(key string) int
}

// KeyShardZero routes every key to shard 0, used for subscriber connections
// where fan-out to a single shard is acceptable (spec.md §4.6 fallback).
type KeyShardZero struct{}

// ShardByKey always returns 0.
func (KeyShardZero) ShardByKey(string) int { return 0 }

// KeyShardCrc32 distributes keys across shardCount shards by CRC32 of the
// key's hash-tag substring, used as the default sharder once cluster mode
// fallback occurs for non-subscriber connections (spec.md §4.6).
type KeyShardCrc32 struct {
	ShardCount int
}

// ShardByKey returns CRC32(tag) % ShardCount.
func (k KeyShardCrc32) ShardByKey(key string) int {
	if k.ShardCount <= 0 {
		return 0
	}
	tag := keyTag(key)
	return int(crc32.ChecksumIEEE([]byte(tag))) % k.ShardCount
}
