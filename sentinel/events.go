package sentinel

import (
	"sync"

	"github.com/redwich/sentinel/redisconn"
)

// EventKind classifies a signal-bus Event.
type EventKind int

// The signal kinds the orchestrator publishes (spec.md §4.6, §9).
const (
	EventInstanceStateChange EventKind = iota
	EventInstanceReady
	EventNotInClusterMode
	EventMembershipChanged
	EventSlotsUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventInstanceStateChange:
		return "instance_state_change"
	case EventInstanceReady:
		return "instance_ready"
	case EventNotInClusterMode:
		return "not_in_cluster_mode"
	case EventMembershipChanged:
		return "membership_changed"
	case EventSlotsUpdated:
		return "slots_updated"
	default:
		return "unknown"
	}
}

// Event is one signal-bus notification. Subscribers receive it on their own
// buffered channel; a slow subscriber has events dropped, never blocking the
// publisher (spec.md §9, SPEC_FULL §5).
type Event struct {
	Kind     EventKind
	ServerID string
	State    redisconn.State
	Shard    int
}

// signalBus is an in-process publish/subscribe where subscription is
// established once at wiring time. publish never calls subscriber code: it
// does a non-blocking send of each event onto every subscriber's own
// buffered channel, which the subscriber drains on its own goroutine
// (spec.md §9: "Signals with multiple subscribers").
type signalBus struct {
	mu   sync.Mutex
	subs []chan Event
	drop func(Event)
}

func newSignalBus() *signalBus {
	return &signalBus{}
}

// Subscribe registers a new subscriber with the given channel buffer size
// and returns the receive-only channel of events.
func (b *signalBus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *signalBus) publish(ev Event) {
	b.mu.Lock()
	subs := append([]chan Event{}, b.subs...)
	drop := b.drop
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			if drop != nil {
				drop(ev)
			}
		}
	}
}
