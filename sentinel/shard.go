package sentinel

import (
	"fmt"
	"sync"

	"github.com/redwich/sentinel/redisconn"
	"github.com/rs/zerolog"
)

// ConnectionInfo identifies one Redis instance to connect to (spec.md §3).
type ConnectionInfo struct {
	Host     string
	Port     int
	Password string
	Name     string
}

func (ci ConnectionInfo) key() string { return fmt.Sprintf("%s:%d", ci.Host, ci.Port) }

// ConnFactory dials a RedisConnection for a ConnectionInfo; production code
// uses redisconn.Dial, tests substitute a fake.
type ConnFactory func(ConnectionInfo) redisconn.RedisConnection

// instanceStateChange is the instance-state-change signal payload.
type instanceStateChange struct {
	ServerID string
	State    redisconn.State
}

// Shard is a set of RedisConnections for one logical shard/role (spec.md
// §4.3). Instance order is meaningful: AsyncCommand round-robins starting
// just after the previously chosen index, which is how two AsyncCommand
// calls in a row tend to land on different instances without extra state.
type Shard struct {
	log zerolog.Logger

	shardName      string
	shardGroupName string
	readOnly       bool
	clusterMode    bool

	connFactory ConnFactory

	mu        sync.Mutex
	instances []redisconn.RedisConnection
	byKey     map[string]redisconn.RedisConnection

	readyCallback func(isMaster bool, ready bool)

	stateSubsMu sync.Mutex
	stateSubs   []func(instanceStateChange)
	readySubs   []func(serverID string)
	notClusterSubs []func()
}

// NewShard creates an empty Shard. Instances are added via SetConnectionInfo.
func NewShard(name, groupName string, readOnly bool, factory ConnFactory, log zerolog.Logger) *Shard {
	return &Shard{
		log:            log.With().Str("component", "shard").Str("shard", name).Logger(),
		shardName:      name,
		shardGroupName: groupName,
		readOnly:       readOnly,
		connFactory:    factory,
		byKey:          make(map[string]redisconn.RedisConnection),
	}
}

// OnStateChange implements redisconn.StateWatcher so Shard learns about its
// own instances' lifecycle transitions and republishes them on its signal
// bus.
func (s *Shard) OnStateChange(serverID string, state redisconn.State) {
	s.publishStateChange(instanceStateChange{ServerID: serverID, State: state})
	if state == redisconn.StateConnected {
		s.publishReady(serverID)
	}
}

// SubscribeStateChange registers a non-blocking subscriber for instance
// state transitions. Subscribers are invoked synchronously on the
// publisher's goroutine and must not block (spec.md §9).
func (s *Shard) SubscribeStateChange(fn func(serverID string, state redisconn.State)) {
	s.stateSubsMu.Lock()
	s.stateSubs = append(s.stateSubs, func(c instanceStateChange) { fn(c.ServerID, c.State) })
	s.stateSubsMu.Unlock()
}

// SubscribeReady registers a subscriber fired once per instance reaching
// StateConnected.
func (s *Shard) SubscribeReady(fn func(serverID string)) {
	s.stateSubsMu.Lock()
	s.readySubs = append(s.readySubs, fn)
	s.stateSubsMu.Unlock()
}

// SubscribeNotInClusterMode registers a subscriber fired when this shard's
// pool discovers the target server does not run in cluster mode.
func (s *Shard) SubscribeNotInClusterMode(fn func()) {
	s.stateSubsMu.Lock()
	s.notClusterSubs = append(s.notClusterSubs, fn)
	s.stateSubsMu.Unlock()
}

func (s *Shard) publishStateChange(c instanceStateChange) {
	s.stateSubsMu.Lock()
	subs := append([]func(instanceStateChange){}, s.stateSubs...)
	s.stateSubsMu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}

func (s *Shard) publishReady(serverID string) {
	s.stateSubsMu.Lock()
	subs := append([]func(string){}, s.readySubs...)
	s.stateSubsMu.Unlock()
	for _, fn := range subs {
		fn(serverID)
	}
}

// PublishNotInClusterMode fires the not-in-cluster-mode signal; called by
// the orchestrator's fallbackToDirectMode once discovery has seen this
// shard's pool answer CLUSTER SLOTS with an error indicating the server is
// not clustered.
func (s *Shard) PublishNotInClusterMode() {
	s.stateSubsMu.Lock()
	subs := append([]func(){}, s.notClusterSubs...)
	s.stateSubsMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// SetConnectionInfo reconciles the current connection set against infos:
// endpoints present in infos but not currently held are dialed; endpoints
// currently held but absent from infos are closed. Returns whether the set
// changed. Idempotent for an unchanged set (spec.md §4.3 invariant).
func (s *Shard) SetConnectionInfo(infos []ConnectionInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]ConnectionInfo, len(infos))
	for _, ci := range infos {
		wanted[ci.key()] = ci
	}

	changed := false

	// Close removed endpoints.
	for key, conn := range s.byKey {
		if _, ok := wanted[key]; !ok {
			conn.Close()
			delete(s.byKey, key)
			changed = true
		}
	}
	s.instances = s.instances[:0]

	// Connect added endpoints, preserving infos' order for round-robin
	// stability.
	for _, ci := range infos {
		conn, ok := s.byKey[ci.key()]
		if !ok {
			conn = s.connFactory(ci)
			if watcher, ok := conn.(interface {
				Watch(redisconn.StateWatcher)
			}); ok {
				watcher.Watch(s)
			}
			s.byKey[ci.key()] = conn
			changed = true
		}
		s.instances = append(s.instances, conn)
	}

	if changed {
		s.log.Info().Int("instances", len(s.instances)).Msg("connection info changed")
	}
	return changed
}

// InstancesSize returns how many instances this shard presently holds.
func (s *Shard) InstancesSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// AsyncCommand picks a healthy instance starting just after prevIdx
// (round-robin, skipping any not in StateConnected) and hands args/cb off to
// it, writing the chosen index back through instanceIdx. Returns false if no
// instance is presently usable (spec.md §4.3).
func (s *Shard) AsyncCommand(args []string, cb redisconn.ReplyCallback, prevIdx int, instanceIdx *int) bool {
	conn, idx, ok := s.pickInstance(prevIdx)
	if !ok {
		return false
	}
	if conn.AsyncCommand(args, cb) {
		*instanceIdx = idx
		return true
	}
	return false
}

// AsyncCommandAsking behaves like AsyncCommand but first sends ASKING on the
// same chosen connection, relying on that connection's FIFO ordering to put
// ASKING immediately ahead of args — required for Redis Cluster's ASK
// redirection protocol (spec.md §6, §8 scenario S3).
func (s *Shard) AsyncCommandAsking(args []string, cb redisconn.ReplyCallback, prevIdx int, instanceIdx *int) bool {
	conn, idx, ok := s.pickInstance(prevIdx)
	if !ok {
		return false
	}
	conn.AsyncCommand([]string{"ASKING"}, nil)
	if conn.AsyncCommand(args, cb) {
		*instanceIdx = idx
		return true
	}
	return false
}

func (s *Shard) pickInstance(prevIdx int) (redisconn.RedisConnection, int, bool) {
	s.mu.Lock()
	n := len(s.instances)
	if n == 0 {
		s.mu.Unlock()
		return nil, 0, false
	}
	instances := append([]redisconn.RedisConnection{}, s.instances...)
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := (prevIdx + 1 + i) % n
		conn := instances[idx]
		if conn.State() == redisconn.StateConnected {
			return conn, idx, true
		}
	}
	return nil, 0, false
}

// IsConnectedToAllServersDebug reports whether every instance is connected,
// treating an empty shard as connected iff allowEmpty.
func (s *Shard) IsConnectedToAllServersDebug(allowEmpty bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.instances) == 0 {
		return allowEmpty
	}
	for _, conn := range s.instances {
		if conn.State() != redisconn.StateConnected {
			return false
		}
	}
	return true
}

// InstanceStats summarizes one shard's instance health (spec.md SPEC_FULL §3
// supplement).
type InstanceStats struct {
	Healthy int
	Total   int
}

// GetStatistics returns a snapshot of this shard's instance health.
func (s *Shard) GetStatistics() InstanceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := InstanceStats{Total: len(s.instances)}
	for _, conn := range s.instances {
		if conn.State() == redisconn.StateConnected {
			st.Healthy++
		}
	}
	return st
}

// ProcessCreation advances pending connection attempts: any instance
// presently StateDisconnected is re-dialed via the connFactory and swapped
// in, as if redialed on the event-loop thread. Returns whether any instance
// was replaced (spec.md §4.3).
func (s *Shard) ProcessCreation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for key, conn := range s.byKey {
		if conn.State() != redisconn.StateDisconnected {
			continue
		}
		ci := ConnectionInfo{Host: conn.Host(), Port: conn.Port(), Name: s.shardName}
		fresh := s.connFactory(ci)
		if watcher, ok := fresh.(interface {
			Watch(redisconn.StateWatcher)
		}); ok {
			watcher.Watch(s)
		}
		s.byKey[key] = fresh
		for i, existing := range s.instances {
			if existing == conn {
				s.instances[i] = fresh
			}
		}
		changed = true
	}
	return changed
}

// ProcessStateUpdate reaps connections that have settled into
// StateDisconnected and re-dials them through ProcessCreation, on the same
// pass and with no backoff between attempts. It exists as a separate hook (rather than
// folded into ProcessCreation) because spec.md's source keeps reconnect
// detection and reconnect *attempts* as separate event-loop passes; here
// they share an implementation since Conn's own goroutine already detects
// failure.
func (s *Shard) ProcessStateUpdate() bool {
	return s.ProcessCreation()
}

// Clean closes every instance this shard holds, releasing resources on
// orchestrator shutdown (spec.md §4.3 lifecycle).
func (s *Shard) Clean() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.instances {
		conn.Close()
	}
	s.instances = nil
	s.byKey = make(map[string]redisconn.RedisConnection)
}
