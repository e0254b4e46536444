package sentinel

import (
	"strconv"
	"strings"
	"time"

	"github.com/redwich/sentinel/redisconn"
)

// Do submits args for the shard owning key, resolving the shard via
// ShardByKey. control governs per-command timeouts and retry budget; cb is
// invoked exactly once (spec.md §4.6).
func (s *Sentinel) Do(key string, args []string, control CommandControl, masterRequired bool, cb ReplyCallback) {
	s.DoShard(s.ShardByKey(key), args, control, masterRequired, cb)
}

// DoShard submits args against an explicit shard index, bypassing key-based
// routing (used for administrative commands and GenerateKeysForShards
// fan-out callers).
func (s *Sentinel) DoShard(shard int, args []string, control CommandControl, masterRequired bool, cb ReplyCallback) {
	now := time.Now()
	cmd := &Command{
		Args:      args,
		Callback:  cb,
		Control:   control,
		StartTime: now,
	}
	s.asyncCommand(SentinelCommand{Command: cmd, Shard: shard, MasterRequired: masterRequired, StartTime: now})
}

// asyncCommand is the entry point for both fresh submissions and deferred
// retries. A shard of UnknownShard (or out of range) substitutes 0
// (spec.md §4.6 step 1).
func (s *Sentinel) asyncCommand(sc SentinelCommand) {
	shard := sc.Shard
	s.shardsMu.RLock()
	n := len(s.masterShards)
	s.shardsMu.RUnlock()
	if shard == UnknownShard || shard < 0 || shard >= n {
		shard = 0
	}

	if sc.Command.StartTime.IsZero() {
		sc.Command.StartTime = time.Now()
	}

	if s.dispatchCommand(sc.Command, shard, sc.MasterRequired, -1) {
		return
	}
	s.enqueueDeferred(SentinelCommand{Command: sc.Command, Shard: shard, MasterRequired: sc.MasterRequired, StartTime: sc.Command.StartTime})
}

// dispatchCommand tries the slave Shard first unless masterRequired, then
// the master Shard, returning whether either accepted the command
// (spec.md §4.6 step 1).
func (s *Sentinel) dispatchCommand(cmd *Command, shard int, masterRequired bool, prevIdx int) bool {
	s.shardsMu.RLock()
	var master, slave *Shard
	if shard >= 0 && shard < len(s.masterShards) {
		master = s.masterShards[shard]
	}
	if shard >= 0 && shard < len(s.slaveShards) {
		slave = s.slaveShards[shard]
	}
	s.shardsMu.RUnlock()

	wrapped := s.makeRetryCallback(cmd, shard, masterRequired)
	asking, _ := cmd.flags()

	var idx int
	if !masterRequired && slave != nil {
		if sendAsking(slave, asking, cmd.Args, wrapped, prevIdx, &idx) {
			cmd.setInstanceIdx(idx)
			return true
		}
	}
	if master != nil {
		if sendAsking(master, asking, cmd.Args, wrapped, prevIdx, &idx) {
			cmd.setInstanceIdx(idx)
			return true
		}
	}
	return false
}

func sendAsking(sh *Shard, asking bool, args []string, cb redisconn.ReplyCallback, prevIdx int, idx *int) bool {
	if asking {
		return sh.AsyncCommandAsking(args, cb, prevIdx, idx)
	}
	return sh.AsyncCommand(args, cb, prevIdx, idx)
}

func (s *Sentinel) enqueueDeferred(sc SentinelCommand) {
	s.cmdMu.Lock()
	s.deferred = append(s.deferred, sc)
	s.cmdMu.Unlock()
	s.stats.incNotReady()
}

// classify inspects reply and determines whether the command should be
// retried, and if so how (spec.md §4.6 step 2, §7's error taxonomy).
func classify(cmd *Command, masterRequired bool, reply redisconn.Reply) (retryable bool, redirectKind string, retryToMaster bool) {
	switch {
	case reply.IsErrorMoved():
		return true, "moved", false
	case reply.IsErrorAsk():
		return true, "ask", false
	case reply.IsReadonlyError():
		return true, "", true
	case reply.IsUnusableInstanceError():
		return true, "", false
	case !masterRequired && reply.IsNil() && cmd.Control.ForceRetriesToMasterOnNilReply:
		return true, "", true
	default:
		return false, "", false
	}
}

// parseRedirectShard tokenizes a MOVED/ASK error message of the form
// "<CODE> <slot> <host>:<port>" and resolves host:port via ShardInfo. It
// returns ok=false only when the message itself is malformed; a
// successfully-parsed-but-unrecognized host:port returns (UnknownShard,
// true). Preserving this distinction matters: on malformed input the caller
// falls back to keeping the original shard rather than substituting
// UnknownShard, matching the source's pre-initialized local before the parse
// attempt (spec.md §9 open question).
func (s *Sentinel) parseRedirectShard(msg string) (int, bool) {
	parts := strings.Fields(msg)
	if len(parts) < 3 {
		return 0, false
	}
	hostport := parts[2]
	i := strings.LastIndex(hostport, ":")
	if i < 0 {
		return 0, false
	}
	host := hostport[:i]
	port, err := strconv.Atoi(hostport[i+1:])
	if err != nil {
		return 0, false
	}
	return s.shardInfo.GetShard(host, port), true
}

// makeRetryCallback builds the reply callback for one dispatch attempt. It
// captures the command's counter at submission time so a reply arriving
// after a subsequent redirect has already bumped the live counter is
// recognized as stale and dropped (spec.md §8 property 6).
func (s *Sentinel) makeRetryCallback(cmd *Command, shard int, masterRequired bool) redisconn.ReplyCallback {
	expectedCounter := cmd.currentCounter()

	return func(reply redisconn.Reply) {
		if cmd.currentCounter() != expectedCounter {
			return
		}

		retryable, redirectKind, retryToMaster := classify(cmd, masterRequired, reply)
		if !retryable {
			s.deliver(cmd, reply)
			return
		}

		newShard := shard
		if redirectKind != "" {
			if parsed, ok := s.parseRedirectShard(reply.ErrMsg); ok {
				newShard = parsed
			}
			if newShard == UnknownShard {
				newShard = 0
			}
		}

		switch redirectKind {
		case "moved":
			s.stats.incMoved()
			s.RequestUpdateClusterSlots(shard)
		case "ask":
			s.stats.incAsk()
		}

		wasAsking, wasRedirected := cmd.flags()
		retriesLeft := cmd.Control.MaxRetries - 1

		if redirectKind != "" {
			cmd.bumpCounter()
			firstRedirect := !wasRedirected || (redirectKind == "ask" && !wasAsking)
			if firstRedirect {
				retriesLeft++
			}
			cmd.setFlags(redirectKind == "ask", true)
		}

		now := time.Now()
		deadline := cmd.StartTime.Add(cmd.Control.TimeoutAll)
		if retriesLeft > 0 && now.Before(deadline) {
			nextMasterRequired := masterRequired || retryToMaster || (redirectKind == "moved" && newShard == shard)

			remaining := time.Until(deadline)
			timeoutSingle := cmd.Control.TimeoutSingle
			if timeoutSingle > remaining {
				timeoutSingle = remaining
			}
			cmd.Control = CommandControl{
				TimeoutSingle:                  timeoutSingle,
				TimeoutAll:                     remaining,
				MaxRetries:                     retriesLeft,
				ForceRetriesToMasterOnNilReply: cmd.Control.ForceRetriesToMasterOnNilReply,
			}

			if s.dispatchCommand(cmd, newShard, nextMasterRequired, cmd.InstanceIdx) {
				return
			}
			s.enqueueDeferred(SentinelCommand{Command: cmd, Shard: newShard, MasterRequired: nextMasterRequired, StartTime: cmd.StartTime})
			return
		}

		s.stats.incRetriesExhausted()
		s.deliver(cmd, reply)
	}
}

// deliver invokes the original caller callback exactly once, recovering from
// and logging any panic it raises (spec.md §4.6 step 3, §7's
// callback-exception policy).
func (s *Sentinel) deliver(cmd *Command, reply redisconn.Reply) {
	if !cmd.tryDeliver() {
		return
	}
	s.invokeCallback(cmd, reply)
	s.stats.incDelivered()
}

func (s *Sentinel) invokeCallback(cmd *Command, reply redisconn.Reply) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("command callback panicked, recovering")
		}
	}()
	if cmd.Callback != nil {
		cmd.Callback(reply)
	}
}
