package sentinel

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/redwich/sentinel/redisconn"
)

// fakeConn is a minimal in-memory redisconn.RedisConnection for exercising
// Shard/Sentinel routing logic without a real TCP connection, grounded on
// radix.v2's testClients helper pattern (dial stand-ins per test) but
// implemented as a hand-rolled fake since RedisConnection here is a
// sentinel-defined interface, not a wire client.
type fakeConn struct {
	host string
	port int
	id   string

	mu      sync.Mutex
	state   redisconn.State
	watcher redisconn.StateWatcher

	closed int32

	// onCommand, if set, is invoked synchronously by AsyncCommand and its
	// return value is delivered to cb; nil means AsyncCommand always fails.
	onCommand func(args []string) (redisconn.Reply, bool)

	sent [][]string
}

func newFakeConn(host string, port int) *fakeConn {
	return &fakeConn{host: host, port: port, id: host + ":" + strconv.Itoa(port), state: redisconn.StateConnected}
}

func (f *fakeConn) AsyncCommand(args []string, cb redisconn.ReplyCallback) bool {
	f.mu.Lock()
	f.sent = append(f.sent, args)
	f.mu.Unlock()

	if f.onCommand == nil {
		return false
	}
	reply, ok := f.onCommand(args)
	if !ok {
		return false
	}
	if cb != nil {
		cb(reply)
	}
	return true
}

func (f *fakeConn) State() redisconn.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) setState(s redisconn.State) {
	f.mu.Lock()
	f.state = s
	w := f.watcher
	f.mu.Unlock()
	if w != nil {
		w.OnStateChange(f.id, s)
	}
}

func (f *fakeConn) ServerID() string { return f.id }
func (f *fakeConn) Host() string     { return f.host }
func (f *fakeConn) Port() int        { return f.port }
func (f *fakeConn) Close()           { atomic.StoreInt32(&f.closed, 1) }

func (f *fakeConn) isClosed() bool { return atomic.LoadInt32(&f.closed) == 1 }

// Watch implements the optional interface Shard.SetConnectionInfo probes for.
func (f *fakeConn) Watch(w redisconn.StateWatcher) {
	f.mu.Lock()
	f.watcher = w
	f.mu.Unlock()
}

// fakeFactory builds a ConnFactory that hands out one fakeConn per
// ConnectionInfo, recording them in byAddr for later inspection/mutation by
// the test.
func fakeFactory(byAddr map[string]*fakeConn) ConnFactory {
	return func(ci ConnectionInfo) redisconn.RedisConnection {
		c := newFakeConn(ci.Host, ci.Port)
		byAddr[ci.key()] = c
		return c
	}
}
