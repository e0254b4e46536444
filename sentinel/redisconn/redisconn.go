// Package redisconn defines the RedisConnection contract consumed by
// sentinel.Shard, plus one concrete implementation (Conn) over a raw TCP
// RESP2 connection. sentinel treats RedisConnection as an external
// collaborator (spec.md §6): framing, pipelining, and reply parsing are this
// package's concern, not the core's.
package redisconn

import "time"

// State is the lifecycle state of a RedisConnection.
type State int

// The five connection states a RedisConnection may occupy.
const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ReplyKind classifies a Reply's payload so the core can apply its retry
// rules without parsing RESP itself.
type ReplyKind int

// The reply-shape predicates listed in spec.md §6.
const (
	ReplyArray ReplyKind = iota
	ReplyInt
	ReplyString
	ReplyNil
	ReplyErrorAsk
	ReplyErrorMoved
	ReplyUnusableInstance
	ReplyReadonly
	ReplyError
	ReplyStatus
)

// Reply is the parsed result of one command, as delivered back to the core.
type Reply struct {
	Kind     ReplyKind
	Int      int64
	Str      string
	Array    []Reply
	ErrMsg   string
	ServerID string
	Time     time.Duration
}

// IsArray reports whether the reply is a RESP array.
func (r Reply) IsArray() bool { return r.Kind == ReplyArray }

// IsInt reports whether the reply is a RESP integer.
func (r Reply) IsInt() bool { return r.Kind == ReplyInt }

// IsString reports whether the reply is a RESP bulk or simple string.
func (r Reply) IsString() bool { return r.Kind == ReplyString }

// IsNil reports whether the reply is a RESP nil bulk string or nil array.
func (r Reply) IsNil() bool { return r.Kind == ReplyNil }

// IsErrorAsk reports whether the reply is a -ASK error.
func (r Reply) IsErrorAsk() bool { return r.Kind == ReplyErrorAsk }

// IsErrorMoved reports whether the reply is a -MOVED error.
func (r Reply) IsErrorMoved() bool { return r.Kind == ReplyErrorMoved }

// IsUnusableInstanceError reports whether the server signalled it cannot
// presently serve commands (e.g. LOADING, CLUSTERDOWN).
func (r Reply) IsUnusableInstanceError() bool { return r.Kind == ReplyUnusableInstance }

// IsReadonlyError reports whether the server rejected a write because it is
// a demoted/read-only replica.
func (r Reply) IsReadonlyError() bool { return r.Kind == ReplyReadonly }

// IsError reports whether the reply is any error reply.
func (r Reply) IsError() bool {
	switch r.Kind {
	case ReplyErrorAsk, ReplyErrorMoved, ReplyUnusableInstance, ReplyReadonly, ReplyError:
		return true
	default:
		return false
	}
}

// ReplyCallback receives the parsed reply to one issued command.
type ReplyCallback func(Reply)

// RedisConnection is the contract sentinel.Shard consumes from every
// instance it owns (spec.md §6). AsyncCommand enqueues args for
// transmission and never blocks; the reply is delivered to cb on this
// connection's own goroutine, preserving this connection's FIFO order.
type RedisConnection interface {
	AsyncCommand(args []string, cb ReplyCallback) bool
	State() State
	ServerID() string
	Host() string
	Port() int
	Close()
}

// StateWatcher is implemented by callers wanting connection lifecycle
// notifications (Shard subscribes every instance it owns).
type StateWatcher interface {
	OnStateChange(serverID string, state State)
}
