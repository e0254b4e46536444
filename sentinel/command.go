package sentinel

import (
	"sync"
	"time"

	"github.com/redwich/sentinel/redisconn"
)

// CommandControl carries the per-command timeout/retry policy (spec.md §3).
type CommandControl struct {
	TimeoutSingle                   time.Duration
	TimeoutAll                      time.Duration
	MaxRetries                      int
	ForceRetriesToMasterOnNilReply  bool
}

// DefaultCommandControl mirrors conservative defaults: a handful of
// retries, single-attempt timeout well under the overall deadline.
func DefaultCommandControl() CommandControl {
	return CommandControl{
		TimeoutSingle: 500 * time.Millisecond,
		TimeoutAll:    2 * time.Second,
		MaxRetries:    4,
	}
}

// ReplyCallback is invoked at most once per logical Command (spec.md §3's
// at-most-once delivery invariant), regardless of how many attempts/redirects
// it took.
type ReplyCallback func(redisconn.Reply)

// Command is one logical, possibly-retried unit of work submitted by a
// caller. Counter is bumped on every MOVED/ASK redirect; a reply whose
// counter no longer matches the live Command is a stale retry and is
// dropped (spec.md §3, §8 property 6).
type Command struct {
	Args     []string
	Callback ReplyCallback
	Control  CommandControl

	Counter       uint64
	Asking        bool
	Redirected    bool
	InstanceIdx   int
	InvokeCounter int
	StartTime     time.Time

	mu        sync.Mutex
	delivered bool
}

// currentCounter reads Counter under lock; replies compare against the value
// they captured at dispatch time to detect staleness (spec.md §8 property 6).
func (c *Command) currentCounter() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Counter
}

// bumpCounter increments Counter under lock and returns the new value. Called
// once per MOVED/ASK redirect.
func (c *Command) bumpCounter() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Counter++
	return c.Counter
}

// flags reads Asking/Redirected under lock.
func (c *Command) flags() (asking, redirected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Asking, c.Redirected
}

// setFlags writes Asking/Redirected under lock.
func (c *Command) setFlags(asking, redirected bool) {
	c.mu.Lock()
	c.Asking = asking
	c.Redirected = redirected
	c.mu.Unlock()
}

// setInstanceIdx records which instance index served the most recent attempt.
func (c *Command) setInstanceIdx(idx int) {
	c.mu.Lock()
	c.InstanceIdx = idx
	c.InvokeCounter++
	c.mu.Unlock()
}

// tryDeliver marks the command delivered, returning false if it already was
// (spec.md §8 property 5: at-most-once delivery).
func (c *Command) tryDeliver() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delivered {
		return false
	}
	c.delivered = true
	return true
}

// SentinelCommand is the unit enqueued in the deferred command queue when no
// shard instance is presently usable (spec.md §3).
type SentinelCommand struct {
	Command       *Command
	Shard         int
	MasterRequired bool
	StartTime     time.Time
}
