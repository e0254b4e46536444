package sentinel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// UnknownShard is the sentinel value meaning "no shard resolved".
const UnknownShard = -1

// ShardInterval describes a contiguous range of hash slots owned by one
// shard, as returned by CLUSTER SLOTS.
type ShardInterval struct {
	SlotMin int
	SlotMax int
	Shard   int
}

// SlotMap is the 16384-entry hash-slot routing table. Individual slot
// entries are atomically updatable; once initialized the map never reverts
// to uninitialized, matching spec.md's SlotMap invariant.
type SlotMap struct {
	log zerolog.Logger

	slots [NumSlots]int32

	mu          sync.Mutex
	cond        *sync.Cond
	initialized bool
}

// NewSlotMap creates an empty, uninitialized slot map with every slot
// pointing at UnknownShard.
func NewSlotMap(log zerolog.Logger) *SlotMap {
	sm := &SlotMap{log: log.With().Str("component", "slotmap").Logger()}
	sm.cond = sync.NewCond(&sm.mu)
	for i := range sm.slots {
		sm.slots[i] = int32(UnknownShard)
	}
	return sm
}

// ShardBySlot returns the shard index owning slot, or UnknownShard.
func (sm *SlotMap) ShardBySlot(slot int) int {
	if slot < 0 || slot >= NumSlots {
		return UnknownShard
	}
	return int(atomic.LoadInt32(&sm.slots[slot]))
}

// IsInitialized reports whether UpdateSlots has ever been called.
func (sm *SlotMap) IsInitialized() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.initialized
}

// WaitInitialized blocks the caller until the slot map is initialized or
// deadline passes, returning whether it is initialized on return.
func (sm *SlotMap) WaitInitialized(deadline time.Time) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for !sm.initialized {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return sm.initialized
		}
		timer := time.AfterFunc(remaining, func() {
			sm.mu.Lock()
			sm.cond.Broadcast()
			sm.mu.Unlock()
		})
		sm.cond.Wait()
		timer.Stop()
		if time.Now().After(deadline) {
			break
		}
	}
	return sm.initialized
}

// UpdateSlots applies a batch of shard intervals, atomically storing the
// owning shard into every covered slot, and returns how many distinct slots
// changed owner. The first call transitions initialized=false→true and wakes
// any WaitInitialized callers. checkIntervals is run first as a debug-only,
// warn-only sanity pass; it never blocks the update.
func (sm *SlotMap) UpdateSlots(intervals []ShardInterval) (changed int) {
	sm.checkIntervals(intervals)

	for _, iv := range intervals {
		lo, hi := iv.SlotMin, iv.SlotMax
		if lo < 0 {
			lo = 0
		}
		if hi >= NumSlots {
			hi = NumSlots - 1
		}
		for s := lo; s <= hi; s++ {
			old := atomic.SwapInt32(&sm.slots[s], int32(iv.Shard))
			if int(old) != iv.Shard {
				changed++
			}
		}
	}

	sm.mu.Lock()
	first := !sm.initialized
	sm.initialized = true
	sm.mu.Unlock()

	if first {
		sm.mu.Lock()
		sm.cond.Broadcast()
		sm.mu.Unlock()
	}

	return changed
}

// checkIntervals is a pure, warn-only helper: it never mutates state and
// never aborts the update, matching the source's debug-only UASSERT which
// is compiled out in release builds. It logs when the passed intervals
// overlap or leave gaps once unioned — production behavior is "apply
// anyway" (spec.md §9, open question 2).
func (sm *SlotMap) checkIntervals(intervals []ShardInterval) {
	if len(intervals) < 2 {
		return
	}
	type endpoint struct {
		slot int
		open bool
	}
	var points []endpoint
	for _, iv := range intervals {
		points = append(points, endpoint{iv.SlotMin, true}, endpoint{iv.SlotMax, false})
	}
	covered := make(map[int]int)
	for _, iv := range intervals {
		lo, hi := iv.SlotMin, iv.SlotMax
		if lo < 0 {
			lo = 0
		}
		if hi >= NumSlots {
			hi = NumSlots - 1
		}
		for s := lo; s <= hi; s++ {
			covered[s]++
		}
	}
	for slot, count := range covered {
		if count > 1 {
			sm.log.Warn().Int("slot", slot).Int("overlap_count", count).Msg("overlapping slot interval passed to UpdateSlots")
		}
	}
	minSlot, maxSlot := NumSlots, -1
	for slot := range covered {
		if slot < minSlot {
			minSlot = slot
		}
		if slot > maxSlot {
			maxSlot = slot
		}
	}
	for s := minSlot; s <= maxSlot; s++ {
		if covered[s] == 0 {
			sm.log.Warn().Int("slot", s).Msg("gap in slot intervals passed to UpdateSlots")
			break
		}
	}
}
