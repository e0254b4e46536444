package sentinel

import "time"

// runDiscoveryPass issues one discovery query appropriate to the current
// mode and applies the result to shard membership, demoting to direct
// connection mode if the target turns out not to be a cluster (spec.md
// §4.5, §4.6).
func (s *Sentinel) runDiscoveryPass() {
	if s.mode == ModeCluster {
		s.log.Trace().Int("triggering_shard", int(s.lastMovedShard.Load())).Msg("running cluster slots discovery pass")
		masters, slaves, _, ok := s.discovery.ReadClusterHosts(s.cfg.Password)
		if s.discovery.ClusterModeFailed() {
			s.fallbackToDirectMode()
			return
		}
		if !ok {
			return
		}
		s.ensureShardCapacity(maxShardIndex(masters, slaves))
		s.applyMembership(masters, slaves)
		s.bus.publish(Event{Kind: EventSlotsUpdated})
		s.bus.publish(Event{Kind: EventMembershipChanged})
		return
	}

	masters, slaves, ok := s.discovery.ReadSentinels(s.cfg.Password)
	if !ok {
		return
	}
	s.applyMembership(masters, slaves)
	s.bus.publish(Event{Kind: EventMembershipChanged})
}

func maxShardIndex(masters, slaves map[int][]ConnectionInfo) int {
	max := 0
	for idx := range masters {
		if idx+1 > max {
			max = idx + 1
		}
	}
	for idx := range slaves {
		if idx+1 > max {
			max = idx + 1
		}
	}
	return max
}

func (s *Sentinel) applyMembership(masters, slaves map[int][]ConnectionInfo) {
	s.shardsMu.RLock()
	masterShards := s.masterShards
	slaveShards := s.slaveShards
	s.shardsMu.RUnlock()

	if s.cfg.TrackMasters {
		for idx, infos := range masters {
			if idx >= 0 && idx < len(masterShards) {
				masterShards[idx].SetConnectionInfo(infos)
			}
		}
	}
	if s.cfg.TrackSlaves {
		for idx, infos := range slaves {
			if idx >= 0 && idx < len(slaveShards) {
				slaveShards[idx].SetConnectionInfo(infos)
			}
		}
	}
}

// fallbackToDirectMode demotes the orchestrator out of cluster mode once
// discovery has confirmed the target does not support CLUSTER SLOTS: the
// sentinel-pool connections themselves become the one master shard, and
// ShardByKey switches to a fixed KeyShard sharder (spec.md §4.6, §9).
func (s *Sentinel) fallbackToDirectMode() {
	s.log.Warn().Msg("target has cluster support disabled, falling back to direct connection mode")
	s.mode = ModeSentinel

	shardCount := len(s.cfg.Shards)
	if shardCount == 0 {
		shardCount = 1
	}
	s.ensureShardCapacity(shardCount)

	s.shardsMu.RLock()
	master := s.masterShards[0]
	s.shardsMu.RUnlock()

	conns := make([]ConnectionInfo, len(s.cfg.Conns))
	for i, ci := range s.cfg.Conns {
		// The seeds are reused as plain, unauthenticated sentinels here, so
		// the cluster password must not travel with them.
		ci.Password = ""
		conns[i] = ci
	}
	master.SetConnectionInfo(conns)

	s.keyShardMu.Lock()
	if s.cfg.IsSubscriber {
		s.keyShard = KeyShardZero{}
	} else {
		s.keyShard = KeyShardCrc32{ShardCount: shardCount}
	}
	s.keyShardMu.Unlock()

	s.sentinelPool.PublishNotInClusterMode()
	s.bus.publish(Event{Kind: EventNotInClusterMode})
}

// processConnectionEvents re-dials any shard (or the sentinel pool) holding
// a disconnected instance and recomputes per-shard readiness, run whenever
// an instance state-change signal arrives (spec.md §4.3, §4.4).
func (s *Sentinel) processConnectionEvents() {
	s.sentinelPool.ProcessStateUpdate()

	s.shardsMu.RLock()
	masterShards := append([]*Shard{}, s.masterShards...)
	slaveShards := append([]*Shard{}, s.slaveShards...)
	statuses := append([]*ConnectedStatus{}, s.connectedStatus...)
	s.shardsMu.RUnlock()

	for i, master := range masterShards {
		master.ProcessStateUpdate()
		statuses[i].SetMasterReady(master.IsConnectedToAllServersDebug(true))
	}
	for i, slave := range slaveShards {
		slave.ProcessStateUpdate()
		statuses[i].SetSlaveReady(slave.IsConnectedToAllServersDebug(true))
	}

	s.retryDeferred()
}

// maintenance runs on the periodic check_interval ticker: it re-examines
// connections, re-runs discovery, and sweeps the deferred queue for
// commands whose overall deadline has passed (spec.md §4.6's deadline law).
func (s *Sentinel) maintenance() {
	s.processConnectionEvents()
	s.runDiscoveryPass()
	s.sweepDeferredDeadlines()
}

// retryDeferred attempts to dispatch every presently-deferred command;
// those still refused stay deferred in submission order.
func (s *Sentinel) retryDeferred() {
	s.cmdMu.Lock()
	pending := s.deferred
	s.deferred = nil
	s.cmdMu.Unlock()

	var stillDeferred []SentinelCommand
	for _, sc := range pending {
		if s.dispatchCommand(sc.Command, sc.Shard, sc.MasterRequired, -1) {
			continue
		}
		stillDeferred = append(stillDeferred, sc)
	}

	s.cmdMu.Lock()
	s.deferred = append(stillDeferred, s.deferred...)
	s.cmdMu.Unlock()
}

// sweepDeferredDeadlines delivers a synthetic not-ready reply to every
// deferred command whose start_time+timeout_all has passed.
func (s *Sentinel) sweepDeferredDeadlines() {
	now := time.Now()

	s.cmdMu.Lock()
	var kept []SentinelCommand
	var expired []SentinelCommand
	for _, sc := range s.deferred {
		if now.After(sc.StartTime.Add(sc.Command.Control.TimeoutAll)) {
			expired = append(expired, sc)
		} else {
			kept = append(kept, sc)
		}
	}
	s.deferred = kept
	s.cmdMu.Unlock()

	for _, sc := range expired {
		s.stats.incNotReady()
		s.deliver(sc.Command, notReadyReply())
	}
}

// shutdownDrain is run once when Stop is called: every deferred command
// receives a synthetic not-ready reply so no caller is left waiting forever
// (spec.md §4.6, §7).
func (s *Sentinel) shutdownDrain() {
	s.cmdMu.Lock()
	pending := s.deferred
	s.deferred = nil
	s.cmdMu.Unlock()

	for _, sc := range pending {
		s.stats.incNotReady()
		s.deliver(sc.Command, notReadyReply())
	}
}
