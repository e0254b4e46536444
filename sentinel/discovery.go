package sentinel

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redwich/sentinel/redisconn"
	"github.com/rs/zerolog"
)

// Mode selects how the DiscoveryEngine learns topology.
type Mode int

// The two discovery modes spec.md §4.5 describes.
const (
	ModeSentinel Mode = iota
	ModeCluster
)

// quorum returns whether responsesParsed meets the majority-of-sent rule:
// responses ≥ ⌊sent/2⌋+1 (spec.md §8 property 2).
func quorum(responsesParsed, requestsSent int) bool {
	if requestsSent == 0 {
		return false
	}
	return responsesParsed >= requestsSent/2+1
}

// watchContext is a scatter-gather barrier across the sentinel pool: it
// fans a query out to every pool instance and collects replies until all
// have answered or deadline passes, modeled on the source's WatchContext
// (spec.md §5).
type watchContext struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  int
	parsed   int
	onReply  func(redisconn.Reply)
}

func newWatchContext(pending int, onReply func(redisconn.Reply)) *watchContext {
	wc := &watchContext{pending: pending, onReply: onReply}
	wc.cond = sync.NewCond(&wc.mu)
	return wc
}

func (wc *watchContext) deliver(r redisconn.Reply) {
	wc.mu.Lock()
	wc.pending--
	if !r.IsError() {
		wc.parsed++
		if wc.onReply != nil {
			wc.onReply(r)
		}
	}
	done := wc.pending <= 0
	wc.mu.Unlock()
	if done {
		wc.mu.Lock()
		wc.cond.Broadcast()
		wc.mu.Unlock()
	}
}

func (wc *watchContext) wait(deadline time.Time) int {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	for wc.pending > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timer := time.AfterFunc(remaining, func() {
			wc.mu.Lock()
			wc.cond.Broadcast()
			wc.mu.Unlock()
		})
		wc.cond.Wait()
		timer.Stop()
		if time.Now().After(deadline) {
			break
		}
	}
	return wc.parsed
}

// DiscoveryEngine issues Sentinel or CLUSTER SLOTS queries against the
// sentinel pool, applies quorum, and updates SlotMap/ShardInfo/Shard
// membership. Every method here is called only from the orchestrator's
// event-loop thread (spec.md §4.5).
type DiscoveryEngine struct {
	log zerolog.Logger

	pool *Shard // the sentinel-pool Shard, shared across both discovery modes

	slotMap   *SlotMap
	shardInfo *ShardInfo

	shardNames []string

	queryTimeout time.Duration

	clusterModeFailed bool
}

// NewDiscoveryEngine wires a DiscoveryEngine to the given sentinel-pool
// Shard, SlotMap, and ShardInfo.
func NewDiscoveryEngine(pool *Shard, slotMap *SlotMap, shardInfo *ShardInfo, shardNames []string, queryTimeout time.Duration, log zerolog.Logger) *DiscoveryEngine {
	return &DiscoveryEngine{
		log:          log.With().Str("component", "discovery").Logger(),
		pool:         pool,
		slotMap:      slotMap,
		shardInfo:    shardInfo,
		shardNames:   shardNames,
		queryTimeout: queryTimeout,
	}
}

// ClusterModeFailed reports whether the last ReadClusterHosts pass saw a
// "not a cluster" response from any pool instance.
func (d *DiscoveryEngine) ClusterModeFailed() bool { return d.clusterModeFailed }

func (d *DiscoveryEngine) fanOut(args []string) (replies []redisconn.Reply, sent int) {
	d.pool.mu.Lock()
	instances := append([]redisconn.RedisConnection{}, d.pool.instances...)
	d.pool.mu.Unlock()

	sent = len(instances)
	if sent == 0 {
		return nil, 0
	}

	var mu sync.Mutex
	wc := newWatchContext(sent, func(r redisconn.Reply) {
		mu.Lock()
		replies = append(replies, r)
		mu.Unlock()
	})
	for _, conn := range instances {
		conn.AsyncCommand(args, wc.deliver)
	}
	wc.wait(time.Now().Add(d.queryTimeout))

	mu.Lock()
	defer mu.Unlock()
	return append([]redisconn.Reply{}, replies...), sent
}

// parseHostsReply turns a SENTINEL MASTERS/SLAVES flat key/value bulk-string
// array reply into a map of field→value per returned entry.
func parseHostsReply(r redisconn.Reply) []map[string]string {
	var out []map[string]string
	if !r.IsArray() {
		return out
	}
	for _, entry := range r.Array {
		if !entry.IsArray() {
			continue
		}
		fields := make(map[string]string)
		for i := 0; i+1 < len(entry.Array); i += 2 {
			fields[entry.Array[i].Str] = entry.Array[i+1].Str
		}
		if len(fields) > 0 {
			out = append(out, fields)
		}
	}
	return out
}

// ReadSentinels runs one sentinel-mode discovery pass: fan out SENTINEL
// MASTERS, apply quorum, then for each reported master matching a
// configured shard name fan out SENTINEL SLAVES <name> and apply quorum per
// shard. On success it swaps ShardInfo and returns the new
// master/slave ConnectionInfo-by-shard maps; on quorum failure it returns
// ok=false and leaves all state untouched (spec.md §4.5, §8 property 2).
func (d *DiscoveryEngine) ReadSentinels(password string) (masters, slaves map[int][]ConnectionInfo, ok bool) {
	replies, sent := d.fanOut([]string{"SENTINEL", "MASTERS"})
	parsed := len(replies)
	if !quorum(parsed, sent) {
		d.log.Warn().Int("parsed", parsed).Int("sent", sent).Msg("sentinel masters quorum not reached, abandoning pass")
		return nil, nil, false
	}

	shardIndex := make(map[string]int, len(d.shardNames))
	for i, name := range d.shardNames {
		shardIndex[name] = i
	}

	masters = make(map[int][]ConnectionInfo)
	newHostPort := make(map[hostPort]int)

	seen := make(map[string]bool)
	for _, reply := range replies {
		for _, m := range parseHostsReply(reply) {
			name := m["name"]
			idx, known := shardIndex[name]
			if !known || seen[name] {
				continue
			}
			seen[name] = true
			port, _ := strconv.Atoi(m["port"])
			ci := ConnectionInfo{Host: m["ip"], Port: port, Password: password, Name: name}
			masters[idx] = []ConnectionInfo{ci}
			newHostPort[hostPort{ci.Host, ci.Port}] = idx
		}
	}

	slaves = make(map[int][]ConnectionInfo)
	for name, idx := range shardIndex {
		replies, sent := d.fanOut([]string{"SENTINEL", "SLAVES", name})
		parsed := len(replies)
		if sent == 0 {
			continue
		}
		if !quorum(parsed, sent) {
			d.log.Warn().Str("shard", name).Msg("sentinel slaves quorum not reached for shard, keeping previous slaves")
			continue
		}
		var infos []ConnectionInfo
		slaveSeen := make(map[string]bool)
		for _, reply := range replies {
			for _, sInfo := range parseHostsReply(reply) {
				key := sInfo["ip"] + ":" + sInfo["port"]
				if slaveSeen[key] {
					continue
				}
				slaveSeen[key] = true
				port, _ := strconv.Atoi(sInfo["port"])
				ci := ConnectionInfo{Host: sInfo["ip"], Port: port, Password: password, Name: name}
				infos = append(infos, ci)
				newHostPort[hostPort{ci.Host, ci.Port}] = idx
			}
		}
		slaves[idx] = infos
	}

	d.shardInfo.UpdateHostPortToShard(newHostPort)
	return masters, slaves, true
}

// clusterSlotsError classes indicating the target is not a cluster node.
func isNotClusterError(msg string) bool {
	upper := strings.ToUpper(msg)
	if strings.Contains(upper, "THIS INSTANCE HAS CLUSTER SUPPORT DISABLED") {
		return true
	}
	if strings.Contains(upper, "UNKNOWN COMMAND") && strings.Contains(upper, "CLUSTER") {
		return true
	}
	return false
}

// ReadClusterHosts runs one cluster-mode discovery pass: issue CLUSTER
// SLOTS against the pool with the same quorum rule as ReadSentinels. If any
// responder indicates "not a cluster", clusterModeFailed is set and the
// caller (sentinel orchestrator) should trigger the fallback. Otherwise
// every returned shard block is mapped into ShardInfo and a SlotMap update
// is applied (spec.md §4.5).
func (d *DiscoveryEngine) ReadClusterHosts(password string) (masters, slaves map[int][]ConnectionInfo, intervals []ShardInterval, ok bool) {
	d.pool.mu.Lock()
	instances := append([]redisconn.RedisConnection{}, d.pool.instances...)
	d.pool.mu.Unlock()

	var mu sync.Mutex
	var replies []redisconn.Reply
	var errored []redisconn.Reply
	wc := newWatchContext(len(instances), func(r redisconn.Reply) {
		mu.Lock()
		replies = append(replies, r)
		mu.Unlock()
	})
	for _, conn := range instances {
		conn.AsyncCommand([]string{"CLUSTER", "SLOTS"}, func(r redisconn.Reply) {
			if r.IsError() {
				mu.Lock()
				errored = append(errored, r)
				mu.Unlock()
			}
			wc.deliver(r)
		})
	}
	wc.wait(time.Now().Add(d.queryTimeout))

	mu.Lock()
	for _, e := range errored {
		if isNotClusterError(e.ErrMsg) {
			d.clusterModeFailed = true
		}
	}
	replies = append([]redisconn.Reply{}, replies...)
	mu.Unlock()

	if d.clusterModeFailed {
		return nil, nil, nil, false
	}

	sent := len(instances)
	parsed := len(replies)
	if !quorum(parsed, sent) {
		d.log.Warn().Int("parsed", parsed).Int("sent", sent).Msg("cluster slots quorum not reached, abandoning pass")
		return nil, nil, nil, false
	}

	masters = make(map[int][]ConnectionInfo)
	slaves = make(map[int][]ConnectionInfo)
	newHostPort := make(map[hostPort]int)

	// Tie-break: a server returned under multiple shard blocks resolves to
	// the first shard whose name matches an initialized shard in shards_;
	// we approximate "initialized" with "already assigned an index in this
	// pass" since the discovery engine itself assigns indices positionally.
	assigned := make(map[hostPort]int)
	nextIdx := 0
	addedMaster := make(map[hostPort]bool)
	addedSlave := make(map[hostPort]bool)

	for _, reply := range replies {
		if !reply.IsArray() {
			continue
		}
		for _, block := range reply.Array {
			if !block.IsArray() || len(block.Array) < 3 {
				continue // malformed entry aborts only this entry, not the whole update
			}
			slotMin := int(block.Array[0].Int)
			slotMax := int(block.Array[1].Int)
			masterEntry := block.Array[2]
			if !masterEntry.IsArray() || len(masterEntry.Array) < 2 {
				continue
			}
			host := masterEntry.Array[0].Str
			port := int(masterEntry.Array[1].Int)
			hp := hostPort{host, port}

			idx, ok := assigned[hp]
			if !ok {
				idx = nextIdx
				nextIdx++
				assigned[hp] = idx
			}

			if !addedMaster[hp] {
				addedMaster[hp] = true
				masters[idx] = append(masters[idx], ConnectionInfo{Host: host, Port: port, Password: password})
			}
			newHostPort[hp] = idx
			intervals = append(intervals, ShardInterval{SlotMin: slotMin, SlotMax: slotMax, Shard: idx})

			for _, slaveEntry := range block.Array[3:] {
				if !slaveEntry.IsArray() || len(slaveEntry.Array) < 2 {
					continue
				}
				sHost := slaveEntry.Array[0].Str
				sPort := int(slaveEntry.Array[1].Int)
				sHp := hostPort{sHost, sPort}
				assigned[sHp] = idx
				newHostPort[sHp] = idx
				if addedSlave[sHp] {
					continue
				}
				addedSlave[sHp] = true
				slaves[idx] = append(slaves[idx], ConnectionInfo{Host: sHost, Port: sPort, Password: password})
			}
		}
	}

	if len(intervals) == 0 {
		// Empty shard_infos is a no-op; keep previous state (spec.md §4.5).
		return nil, nil, nil, false
	}

	d.shardInfo.UpdateHostPortToShard(newHostPort)
	d.slotMap.UpdateSlots(intervals)
	return masters, slaves, intervals, true
}
