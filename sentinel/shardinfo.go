package sentinel

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

// hostPort is a (host, port) pair used as a ShardInfo map key.
type hostPort struct {
	host string
	port int
}

// ShardInfo maps (host, port) endpoints to the shard index that owns them.
// Used to resolve MOVED/ASK targets and CLUSTER SLOTS responses back to a
// shard identity. The map is replaced atomically under lock; readers see
// consistent snapshots (spec.md §4.2).
type ShardInfo struct {
	log zerolog.Logger

	mu sync.Mutex
	m  map[hostPort]int
}

// NewShardInfo creates an empty ShardInfo table.
func NewShardInfo(log zerolog.Logger) *ShardInfo {
	return &ShardInfo{
		log: log.With().Str("component", "shardinfo").Logger(),
		m:   make(map[hostPort]int),
	}
}

// GetShard returns the shard index serving host:port, or UnknownShard.
func (si *ShardInfo) GetShard(host string, port int) int {
	si.mu.Lock()
	defer si.mu.Unlock()
	if shard, ok := si.m[hostPort{host, port}]; ok {
		return shard
	}
	return UnknownShard
}

// UpdateHostPortToShard compares newMap against the current map under lock
// and swaps only if different, returning whether a swap occurred.
func (si *ShardInfo) UpdateHostPortToShard(newMap map[hostPort]int) bool {
	si.mu.Lock()
	defer si.mu.Unlock()

	if reflect.DeepEqual(si.m, newMap) {
		return false
	}
	si.m = newMap
	si.log.Debug().Int("entries", len(newMap)).Msg("shard info table replaced")
	return true
}

// Snapshot returns a copy of the current host:port → shard mapping, keyed as
// "host:port" strings for consumption by observability subscribers.
func (si *ShardInfo) Snapshot() map[string]int {
	si.mu.Lock()
	defer si.mu.Unlock()

	out := make(map[string]int, len(si.m))
	for hp, shard := range si.m {
		out[fmt.Sprintf("%s:%d", hp.host, hp.port)] = shard
	}
	return out
}
