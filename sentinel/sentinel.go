// Package sentinel implements a Redis Sentinel/Cluster-aware client core: a
// single-threaded discovery and routing event loop bridged to concurrent
// callers through an async command queue (spec.md §1, §2).
package sentinel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/stan.go"
	"github.com/redwich/sentinel/redisconn"
	"github.com/rs/zerolog"
)

// Config configures one Sentinel orchestrator instance (spec.md §3,
// SPEC_FULL §6).
type Config struct {
	// Shards names sentinel-mode shards in index order. Ignored once the
	// orchestrator is in cluster mode, where shard indices are assigned by
	// discovery instead.
	Shards []string

	// Conns is the sentinel/cluster-seed connection pool used to run
	// discovery queries.
	Conns []ConnectionInfo

	ShardGroupName string
	ClientName     string
	Password       string

	TrackMasters bool
	TrackSlaves  bool
	IsSubscriber bool

	// ClusterMode selects ModeCluster at startup; otherwise ModeSentinel.
	ClusterMode bool

	ReadyCallback func(shard int, isMaster bool, ready bool)

	CheckInterval       time.Duration
	ClusterSlotsTimeout time.Duration

	ConnFactory ConnFactory

	// NatsPublisher, when non-nil, receives a JSON-encoded Event for every
	// signal-bus publication (SPEC_FULL domain-stack wiring).
	NatsPublisher stan.Conn
	NatsSubject   string
}

func (c Config) checkIntervalOrDefault() time.Duration {
	if c.CheckInterval <= 0 {
		return 3 * time.Second
	}
	return c.CheckInterval
}

func (c Config) clusterSlotsTimeoutOrDefault() time.Duration {
	if c.ClusterSlotsTimeout <= 0 {
		return 2 * time.Second
	}
	return c.ClusterSlotsTimeout
}

// Sentinel is the orchestrator: it owns the sentinel pool, discovered
// shards, and the deferred command queue, and runs a single event-loop
// goroutine that serializes all topology mutation (spec.md §2, §5).
type Sentinel struct {
	log zerolog.Logger
	cfg Config

	mode Mode

	slotMap   *SlotMap
	shardInfo *ShardInfo

	sentinelPool *Shard
	discovery    *DiscoveryEngine

	shardsMu        sync.RWMutex
	masterShards    []*Shard
	slaveShards     []*Shard
	connectedStatus []*ConnectedStatus

	keyShardMu sync.RWMutex
	keyShard   KeyShard // non-nil once demoted out of cluster mode

	cmdMu    sync.Mutex
	deferred []SentinelCommand

	wakeStateChange   chan struct{}
	wakeMembership    chan struct{}
	wakeConnectCreate chan struct{}
	wakeClusterSlots  chan struct{}

	// lastMovedShard records which shard's MOVED reply most recently
	// triggered a cluster-slots refresh, for diagnostics only: a refresh
	// pass re-reads CLUSTER SLOTS from the whole pool regardless of which
	// shard asked for it.
	lastMovedShard atomic.Int32

	stopCh chan struct{}
	doneCh chan struct{}

	stats statsInternal

	bus *signalBus
}

// NewSentinel builds a Sentinel from cfg but does not start its event loop;
// call Run to start it.
func NewSentinel(cfg Config, log zerolog.Logger) (*Sentinel, error) {
	if !cfg.ClusterMode && len(cfg.Shards) == 0 {
		return nil, ErrNoShardsConfigured
	}
	if len(cfg.Conns) == 0 {
		return nil, ErrNoSentinelConns
	}
	if cfg.ConnFactory == nil {
		cfg.ConnFactory = func(ci ConnectionInfo) redisconn.RedisConnection {
			return redisconn.Dial(ci.Host, ci.Port, redisconn.Opts{
				Password: ci.Password,
				Name:     ci.Name,
			}, log)
		}
	}

	s := &Sentinel{
		log:               log.With().Str("component", "sentinel").Logger(),
		cfg:               cfg,
		slotMap:           NewSlotMap(log),
		shardInfo:         NewShardInfo(log),
		wakeStateChange:   make(chan struct{}, 1),
		wakeMembership:    make(chan struct{}, 1),
		wakeConnectCreate: make(chan struct{}, 1),
		wakeClusterSlots:  make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
		bus:               newSignalBus(),
	}
	s.bus.drop = func(ev Event) {
		s.log.Warn().Str("event", ev.Kind.String()).Msg("signal-bus subscriber too slow, event dropped")
	}

	if cfg.ClusterMode {
		s.mode = ModeCluster
	} else {
		s.mode = ModeSentinel
	}
	if cfg.IsSubscriber {
		s.keyShard = KeyShardZero{}
	}

	s.sentinelPool = NewShard("sentinel-pool", cfg.ShardGroupName, false, cfg.ConnFactory, log)
	s.sentinelPool.SetConnectionInfo(cfg.Conns)
	s.sentinelPool.SubscribeStateChange(func(serverID string, state redisconn.State) {
		s.bus.publish(Event{Kind: EventInstanceStateChange, ServerID: serverID, State: state})
		s.wake(s.wakeStateChange)
	})

	s.discovery = NewDiscoveryEngine(s.sentinelPool, s.slotMap, s.shardInfo, cfg.Shards, cfg.clusterSlotsTimeoutOrDefault(), log)

	if s.mode == ModeSentinel {
		s.ensureShardCapacity(len(cfg.Shards))
	}

	if cfg.NatsPublisher != nil {
		s.wireNatsPublisher()
	}

	return s, nil
}

// Subscribe registers an observability subscriber on the internal signal
// bus (consumed by the snapshot exporter and debug websocket hub).
func (s *Sentinel) Subscribe(buffer int) <-chan Event { return s.bus.Subscribe(buffer) }

// Mode reports the orchestrator's current discovery mode.
func (s *Sentinel) Mode() Mode { return s.mode }

func (s *Sentinel) wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ensureShardCapacity grows masterShards/slaveShards/connectedStatus to hold
// at least n shards, constructing fresh Shard/ConnectedStatus objects for
// any new indices. Existing indices are left untouched so identity survives
// across discovery passes (spec.md §4.5).
func (s *Sentinel) ensureShardCapacity(n int) {
	s.shardsMu.Lock()
	defer s.shardsMu.Unlock()

	for len(s.masterShards) < n {
		idx := len(s.masterShards)
		name := s.shardName(idx)
		s.masterShards = append(s.masterShards, NewShard(name, s.cfg.ShardGroupName, false, s.cfg.ConnFactory, s.log))
		s.slaveShards = append(s.slaveShards, NewShard(name, s.cfg.ShardGroupName, true, s.cfg.ConnFactory, s.log))
		s.connectedStatus = append(s.connectedStatus, NewConnectedStatus())

		master, slave, cs := s.masterShards[idx], s.slaveShards[idx], s.connectedStatus[idx]
		shardIdx := idx
		master.SubscribeStateChange(func(serverID string, state redisconn.State) {
			s.bus.publish(Event{Kind: EventInstanceStateChange, ServerID: serverID, State: state, Shard: shardIdx})
			s.wake(s.wakeStateChange)
		})
		master.SubscribeReady(func(string) {
			cs.SetMasterReady(master.IsConnectedToAllServersDebug(true))
			s.fireReadyCallback(shardIdx, true, cs.MasterReady())
		})
		slave.SubscribeStateChange(func(serverID string, state redisconn.State) {
			s.bus.publish(Event{Kind: EventInstanceStateChange, ServerID: serverID, State: state, Shard: shardIdx})
			s.wake(s.wakeStateChange)
		})
		slave.SubscribeReady(func(string) {
			cs.SetSlaveReady(slave.IsConnectedToAllServersDebug(true))
			s.fireReadyCallback(shardIdx, false, cs.SlaveReady())
		})
	}
}

func (s *Sentinel) shardName(idx int) string {
	if idx < len(s.cfg.Shards) {
		return s.cfg.Shards[idx]
	}
	return ""
}

func (s *Sentinel) fireReadyCallback(shard int, isMaster, ready bool) {
	if s.cfg.ReadyCallback != nil {
		s.cfg.ReadyCallback(shard, isMaster, ready)
	}
}

// ShardByKey resolves key to a shard index: via the pluggable KeyShard
// sharder once cluster mode has been demoted, otherwise via the slot map
// (spec.md §4.6).
func (s *Sentinel) ShardByKey(key string) int {
	s.keyShardMu.RLock()
	ks := s.keyShard
	s.keyShardMu.RUnlock()

	if ks != nil {
		return ks.ShardByKey(key)
	}
	shard := s.slotMap.ShardBySlot(HashSlot(key))
	if shard == UnknownShard {
		return 0
	}
	return shard
}

// IsClusterMode reports whether the orchestrator still routes via the slot
// map rather than a fixed KeyShard sharder.
func (s *Sentinel) IsClusterMode() bool {
	s.keyShardMu.RLock()
	defer s.keyShardMu.RUnlock()
	return s.keyShard == nil
}

// Run runs the event loop on the calling goroutine and blocks until Stop is
// called. Call it from its own goroutine.
func (s *Sentinel) Run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.checkIntervalOrDefault())
	defer ticker.Stop()

	s.runDiscoveryPass()

	for {
		select {
		case <-s.stopCh:
			s.shutdownDrain()
			s.shardsMu.RLock()
			for i := range s.masterShards {
				s.masterShards[i].Clean()
				s.slaveShards[i].Clean()
			}
			s.shardsMu.RUnlock()
			s.sentinelPool.Clean()
			return
		case <-ticker.C:
			s.maintenance()
		case <-s.wakeStateChange:
			s.processConnectionEvents()
		case <-s.wakeConnectCreate:
			s.processConnectionEvents()
		case <-s.wakeMembership:
			s.runDiscoveryPass()
		case <-s.wakeClusterSlots:
			s.runDiscoveryPass()
		}
	}
}

// Stop requests the event loop to exit and blocks until it has, delivering
// synthetic not-ready replies to every deferred command and then closing
// every shard's and the sentinel pool's connections.
func (s *Sentinel) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// RequestUpdateClusterSlots asks the event loop to re-run cluster discovery
// at its next opportunity, coalescing multiple requests into one pass
// (spec.md §4.6: issued after every MOVED reply). shard is the shard whose
// MOVED reply triggered the request; it is recorded for diagnostics only,
// since one refresh pass re-reads CLUSTER SLOTS for every shard at once.
func (s *Sentinel) RequestUpdateClusterSlots(shard int) {
	s.lastMovedShard.Store(int32(shard))
	s.wake(s.wakeClusterSlots)
}

// RequestMembershipRefresh asks the event loop to re-run discovery (cluster
// or sentinel, per current mode) at its next opportunity.
func (s *Sentinel) RequestMembershipRefresh() {
	s.wake(s.wakeMembership)
}

func (s *Sentinel) wireNatsPublisher() {
	events := s.Subscribe(64)
	go func() {
		for ev := range events {
			data, err := jsonMarshalEvent(ev)
			if err != nil {
				continue
			}
			subject := s.cfg.NatsSubject
			if subject == "" {
				subject = "sentinel.events"
			}
			if err := s.cfg.NatsPublisher.Publish(subject, data); err != nil {
				s.log.Warn().Err(err).Msg("nats publish failed")
			}
		}
	}()
}
