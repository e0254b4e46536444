// Package snapshot periodically exports the orchestrator's discovered
// topology into a separate "scratch" Redis instance as a msgpack-encoded
// hash, grounded on the teacher's gateway.RediScripts/State HMSet pattern
// (state.go's GuildAdd, gateway/state.go's ClearKeys) but writing structured
// topology instead of Discord entities, and msgpack instead of
// encoding/json.
package snapshot

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/redwich/sentinel"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack"
)

// Config configures an Exporter.
type Config struct {
	RedisAddr string
	Password  string
	DB        int
	Key       string
	Interval  time.Duration
}

func (c Config) keyOrDefault() string {
	if c.Key == "" {
		return "redsentinel:topology"
	}
	return c.Key
}

func (c Config) intervalOrDefault() time.Duration {
	if c.Interval <= 0 {
		return 10 * time.Second
	}
	return c.Interval
}

// Exporter writes a point-in-time Topology snapshot to Redis on a ticker.
type Exporter struct {
	log   zerolog.Logger
	cfg   Config
	redis *redis.Client
	s     *sentinel.Sentinel
}

// NewExporter wires an Exporter to an orchestrator and a scratch Redis
// client.
func NewExporter(cfg Config, s *sentinel.Sentinel, log zerolog.Logger) *Exporter {
	return &Exporter{
		log: log.With().Str("component", "snapshot").Logger(),
		cfg: cfg,
		redis: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		s: s,
	}
}

// Run writes a snapshot every tick until ctx is cancelled. A write failure
// is logged and retried next tick; it never blocks or panics the core
// (spec.md §7's observability-failure policy, SPEC_FULL §4.7).
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.intervalOrDefault())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.writeOnce(ctx)
		}
	}
}

func (e *Exporter) writeOnce(ctx context.Context) {
	topo := e.s.TopologySnapshot()

	values := make(map[string]interface{}, len(topo.Shards)+1)
	for _, sh := range topo.Shards {
		encoded, err := msgpack.Marshal(sh)
		if err != nil {
			e.log.Warn().Err(err).Int("shard", sh.Index).Msg("snapshot: failed to encode shard")
			continue
		}
		values[shardField(sh.Index)] = encoded
	}

	meta, err := msgpack.Marshal(topo.HostPortShard)
	if err != nil {
		e.log.Warn().Err(err).Msg("snapshot: failed to encode host/port table")
	} else {
		values["_hostports"] = meta
	}
	values["_mode"] = topo.Mode

	if err := e.redis.HSet(ctx, e.cfg.keyOrDefault(), values).Err(); err != nil {
		e.log.Warn().Err(err).Msg("snapshot: write failed")
	}
}

func shardField(idx int) string {
	return "shard:" + strconv.Itoa(idx)
}
