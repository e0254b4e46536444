// Package client provides Client, a small ergonomic facade over
// sentinel.Sentinel modeled on the teacher's client.Client: a constructor
// plus a handful of documented methods, rather than exposing the
// orchestrator's full surface to application code.
package client

import (
	"time"

	"github.com/redwich/sentinel"
	"github.com/redwich/sentinel/redisconn"
	"github.com/rs/zerolog"
)

// Client wraps a running sentinel.Sentinel with convenience helpers for the
// common command shapes: fire-and-forget, blocking-via-channel, and
// key-routed versus shard-routed.
type Client struct {
	log zerolog.Logger
	s   *sentinel.Sentinel
}

// New wires a Client around a freshly constructed Sentinel and starts its
// event loop in the background. Call Close to stop it.
func New(cfg sentinel.Config, log zerolog.Logger) (*Client, error) {
	s, err := sentinel.NewSentinel(cfg, log)
	if err != nil {
		return nil, err
	}
	go s.Run()
	return &Client{log: log.With().Str("component", "client").Logger(), s: s}, nil
}

// Close stops the underlying orchestrator, draining any outstanding
// commands with a synthetic not-ready reply.
func (c *Client) Close() { c.s.Stop() }

// Do submits a command keyed by key, invoking cb exactly once with the
// final reply.
func (c *Client) Do(key string, args []string, masterRequired bool, cb func(redisconn.Reply)) {
	c.s.Do(key, args, sentinel.DefaultCommandControl(), masterRequired, cb)
}

// DoShard submits a command against an explicit shard index.
func (c *Client) DoShard(shard int, args []string, masterRequired bool, cb func(redisconn.Reply)) {
	c.s.DoShard(shard, args, sentinel.DefaultCommandControl(), masterRequired, cb)
}

// DoSync blocks the calling goroutine until the reply for a key-routed
// command arrives. Provided as a convenience for call sites that don't want
// to manage a callback/channel themselves; it defeats none of the
// underlying async machinery, it just waits on a local channel.
func (c *Client) DoSync(key string, args []string, masterRequired bool) redisconn.Reply {
	ch := make(chan redisconn.Reply, 1)
	c.Do(key, args, masterRequired, func(r redisconn.Reply) { ch <- r })
	return <-ch
}

// WaitReady blocks until the given shard becomes ready for mode, or timeout
// elapses.
func (c *Client) WaitReady(shard int, mode sentinel.WaitMode, timeout time.Duration) error {
	return c.s.WaitConnectedOnce(shard, time.Now().Add(timeout), mode, true)
}

// Stats returns the orchestrator's counters.
func (c *Client) Stats() sentinel.Stats { return c.s.Stats() }

// RefreshTopology asks the orchestrator to re-run discovery (cluster slots
// or sentinel masters/slaves, per current mode) at its next opportunity,
// without waiting for the next periodic check interval.
func (c *Client) RefreshTopology() { c.s.RequestMembershipRefresh() }

// Subscribe exposes the orchestrator's signal bus for application-level
// observability needs beyond the bundled snapshot/debugws sidecars.
func (c *Client) Subscribe(buffer int) <-chan sentinel.Event { return c.s.Subscribe(buffer) }

// Underlying returns the wrapped *sentinel.Sentinel, for callers (such as
// the sentinel/snapshot and sentinel/debugws sidecars) that need the full
// orchestrator surface rather than this facade's narrower method set.
func (c *Client) Underlying() *sentinel.Sentinel { return c.s }
