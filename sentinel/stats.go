package sentinel

import "sync/atomic"

// Stats is a point-in-time snapshot of orchestrator-wide counters
// (SPEC_FULL §3 supplement, §8 property 10: stats monotonicity).
type Stats struct {
	NotReady         uint64
	Moved            uint64
	Ask              uint64
	RetriesExhausted uint64
	Delivered        uint64
}

// statsInternal holds the live atomic counters backing Stats.
type statsInternal struct {
	notReady         uint64
	moved            uint64
	ask              uint64
	retriesExhausted uint64
	delivered        uint64
}

func (s *statsInternal) incNotReady()         { atomic.AddUint64(&s.notReady, 1) }
func (s *statsInternal) incMoved()            { atomic.AddUint64(&s.moved, 1) }
func (s *statsInternal) incAsk()              { atomic.AddUint64(&s.ask, 1) }
func (s *statsInternal) incRetriesExhausted() { atomic.AddUint64(&s.retriesExhausted, 1) }
func (s *statsInternal) incDelivered()        { atomic.AddUint64(&s.delivered, 1) }

func (s *statsInternal) snapshot() Stats {
	return Stats{
		NotReady:         atomic.LoadUint64(&s.notReady),
		Moved:            atomic.LoadUint64(&s.moved),
		Ask:              atomic.LoadUint64(&s.ask),
		RetriesExhausted: atomic.LoadUint64(&s.retriesExhausted),
		Delivered:        atomic.LoadUint64(&s.delivered),
	}
}
