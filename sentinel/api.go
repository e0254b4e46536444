package sentinel

import (
	"strconv"
	"sync"
	"time"
)

// hashtagBySlot lazily maps each of the 16384 hash slots to one decimal
// string whose {tag} hashes into it, built by brute-force search the first
// time a cluster-only key-generation API is used (spec.md's HashSlot,
// SPEC_FULL §3).
var (
	hashtagOnce    sync.Once
	hashtagBySlot  [NumSlots]string
)

func ensureHashtags() {
	hashtagOnce.Do(func() {
		found := 0
		for i := 0; found < NumSlots && i < 2_000_000; i++ {
			tag := strconv.Itoa(i)
			slot := HashSlot(tag)
			if hashtagBySlot[slot] == "" {
				hashtagBySlot[slot] = tag
				found++
			}
		}
	})
}

// GetAnyKeyForShard returns a key hashing into some slot presently owned by
// shard, for use by callers that need to address a shard without an
// application-level key of their own (e.g. admin commands). Cluster-mode
// only (spec.md §7, SPEC_FULL §3).
func (s *Sentinel) GetAnyKeyForShard(shard int) (string, error) {
	if !s.IsClusterMode() {
		return "", ErrClusterOnlyAPI
	}
	ensureHashtags()
	for slot := 0; slot < NumSlots; slot++ {
		if s.slotMap.ShardBySlot(slot) == shard {
			return "{" + hashtagBySlot[slot] + "}", nil
		}
	}
	return "", ErrNoKeyForShard
}

// GenerateKeysForShards returns one sample key per shard presently owning at
// least one slot, keyed by shard index. Cluster-mode only.
func (s *Sentinel) GenerateKeysForShards() (map[int]string, error) {
	if !s.IsClusterMode() {
		return nil, ErrClusterOnlyAPI
	}
	ensureHashtags()

	out := make(map[int]string)
	for slot := 0; slot < NumSlots; slot++ {
		shard := s.slotMap.ShardBySlot(slot)
		if shard == UnknownShard {
			continue
		}
		if _, ok := out[shard]; !ok {
			out[shard] = "{" + hashtagBySlot[slot] + "}"
		}
	}
	if len(out) == 0 {
		return nil, ErrNoKeyForShard
	}
	return out, nil
}

// WaitConnectedOnce blocks until shard satisfies mode's readiness predicate
// or deadline passes. With throwOnFail it returns ErrClientNotConnected on
// timeout; otherwise it returns nil regardless (spec.md §4.4, §7).
func (s *Sentinel) WaitConnectedOnce(shard int, deadline time.Time, mode WaitMode, throwOnFail bool) error {
	s.shardsMu.RLock()
	if shard < 0 || shard >= len(s.connectedStatus) {
		s.shardsMu.RUnlock()
		return ErrShardOutOfRange
	}
	cs := s.connectedStatus[shard]
	s.shardsMu.RUnlock()

	ok := cs.WaitReady(deadline, mode)
	if !ok && throwOnFail {
		return ErrClientNotConnected
	}
	return nil
}

// Stats returns a snapshot of orchestrator-wide counters.
func (s *Sentinel) Stats() Stats { return s.stats.snapshot() }

// ShardStats returns the instance-health snapshot for a shard's master and
// slave pools.
func (s *Sentinel) ShardStats(shard int) (master, slave InstanceStats, err error) {
	s.shardsMu.RLock()
	defer s.shardsMu.RUnlock()
	if shard < 0 || shard >= len(s.masterShards) {
		return InstanceStats{}, InstanceStats{}, ErrShardOutOfRange
	}
	return s.masterShards[shard].GetStatistics(), s.slaveShards[shard].GetStatistics(), nil
}

// ShardCount reports how many shards the orchestrator presently tracks.
func (s *Sentinel) ShardCount() int {
	s.shardsMu.RLock()
	defer s.shardsMu.RUnlock()
	return len(s.masterShards)
}

// Topology is a point-in-time view of discovered membership, for
// observability sidecars (sentinel/snapshot, sentinel/debugws).
type Topology struct {
	Mode         string
	HostPortShard map[string]int
	Shards       []ShardTopology
}

// ShardTopology summarizes one shard's instance health.
type ShardTopology struct {
	Index  int
	Master InstanceStats
	Slave  InstanceStats
}

// TopologySnapshot assembles a Topology from the current ShardInfo table and
// per-shard health, without touching the slot table directly (16384 entries
// is cheap to scan only where actually needed, e.g. GetAnyKeyForShard).
func (s *Sentinel) TopologySnapshot() Topology {
	s.shardsMu.RLock()
	defer s.shardsMu.RUnlock()

	t := Topology{HostPortShard: s.shardInfo.Snapshot()}
	if s.IsClusterMode() {
		t.Mode = "cluster"
	} else {
		t.Mode = "sentinel"
	}
	for i := range s.masterShards {
		t.Shards = append(t.Shards, ShardTopology{
			Index:  i,
			Master: s.masterShards[i].GetStatistics(),
			Slave:  s.slaveShards[i].GetStatistics(),
		})
	}
	return t
}
