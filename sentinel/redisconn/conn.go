package redisconn

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by AsyncCommand when the connection is not in
// StateConnected.
var ErrNotConnected = errors.New("redisconn: not connected")

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("redisconn: connection closed")

type pendingCmd struct {
	args []string
	cb   ReplyCallback
}

// Conn is a concrete RedisConnection: one TCP socket speaking RESP2,
// modeled on etsangsplk-redispipe/redisconn's atomic state machine and
// writer/reader goroutine pair.
type Conn struct {
	log zerolog.Logger

	host string
	port int
	name string

	state uint32 // atomic, one of the State consts

	netConn net.Conn
	writer  *bufio.Writer
	reader  *bufio.Reader

	mu       sync.Mutex
	pending  []pendingCmd
	inflight []pendingCmd
	sendCh   chan struct{}
	closeCh  chan struct{}
	watchers []StateWatcher

	dialTimeout time.Duration
	password    string
}

// Opts configures a dial.
type Opts struct {
	Password    string
	DialTimeout time.Duration
	Name        string
}

// Dial opens a TCP connection to host:port and starts its reader/writer
// goroutines. The connection starts in StateConnecting and flips to
// StateConnected once the dial (and optional AUTH) succeeds, or
// StateDisconnected on failure.
func Dial(host string, port int, opts Opts, log zerolog.Logger) *Conn {
	c := &Conn{
		log:         log.With().Str("component", "redisconn").Str("addr", fmt.Sprintf("%s:%d", host, port)).Logger(),
		host:        host,
		port:        port,
		name:        opts.Name,
		dialTimeout: opts.DialTimeout,
		password:    opts.Password,
		sendCh:      make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
	}
	atomic.StoreUint32(&c.state, uint32(StateConnecting))
	go c.run()
	return c
}

// ServerID identifies this connection for signal-bus purposes.
func (c *Conn) ServerID() string { return fmt.Sprintf("%s:%d", c.host, c.port) }

// Host returns the connection's target host.
func (c *Conn) Host() string { return c.host }

// Port returns the connection's target port.
func (c *Conn) Port() int { return c.port }

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	return State(atomic.LoadUint32(&c.state))
}

func (c *Conn) setState(s State) {
	atomic.StoreUint32(&c.state, uint32(s))
	c.mu.Lock()
	watchers := append([]StateWatcher(nil), c.watchers...)
	c.mu.Unlock()
	for _, w := range watchers {
		w.OnStateChange(c.ServerID(), s)
	}
}

// Watch registers a StateWatcher for this connection's transitions.
func (c *Conn) Watch(w StateWatcher) {
	c.mu.Lock()
	c.watchers = append(c.watchers, w)
	c.mu.Unlock()
}

// AsyncCommand enqueues args for transmission, returning false immediately
// if the connection is not connected. The reply is delivered to cb on this
// connection's reader goroutine once the server responds, preserving FIFO
// order relative to other commands on this connection.
func (c *Conn) AsyncCommand(args []string, cb ReplyCallback) bool {
	if c.State() != StateConnected {
		return false
	}
	c.mu.Lock()
	c.pending = append(c.pending, pendingCmd{args: args, cb: cb})
	c.mu.Unlock()

	select {
	case c.sendCh <- struct{}{}:
	default:
	}
	return true
}

// Close disconnects and stops this connection's goroutines.
func (c *Conn) Close() {
	if c.State() == StateDisconnected {
		return
	}
	c.setState(StateDisconnecting)
	close(c.closeCh)
	if c.netConn != nil {
		c.netConn.Close()
	}
	c.setState(StateDisconnected)
}

func (c *Conn) run() {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", c.host, c.port), c.dialTimeout)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to dial redis instance")
		c.setState(StateDisconnected)
		return
	}
	c.netConn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)

	if c.password != "" {
		if err := c.authenticate(); err != nil {
			c.log.Warn().Err(err).Msg("AUTH failed")
			c.setState(StateDisconnected)
			conn.Close()
			return
		}
	}

	c.setState(StateConnected)
	go c.writeLoop()
	c.readLoop()
}

func (c *Conn) authenticate() error {
	if err := writeCommand(c.writer, []string{"AUTH", c.password}); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}
	reply, err := readReply(c.reader)
	if err != nil {
		return err
	}
	if reply.IsError() {
		return fmt.Errorf("redisconn: AUTH rejected: %s", reply.ErrMsg)
	}
	return nil
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.sendCh:
		}

		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()

		for _, p := range batch {
			if err := writeCommand(c.writer, p.args); err != nil {
				c.log.Warn().Err(err).Msg("write failed")
				c.Close()
				return
			}
		}
		if len(batch) > 0 {
			if err := c.writer.Flush(); err != nil {
				c.log.Warn().Err(err).Msg("flush failed")
				c.Close()
				return
			}
			c.mu.Lock()
			c.inflight = append(c.inflight, batch...)
			c.mu.Unlock()
		}
	}
}

func (c *Conn) readLoop() {
	for {
		start := time.Now()
		reply, err := readReply(c.reader)
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				c.log.Warn().Err(err).Msg("read failed, disconnecting")
				c.Close()
			}
			c.failInflight()
			return
		}
		reply.ServerID = c.ServerID()
		reply.Time = time.Since(start)

		c.mu.Lock()
		if len(c.inflight) == 0 {
			c.mu.Unlock()
			continue
		}
		next := c.inflight[0]
		c.inflight = c.inflight[1:]
		c.mu.Unlock()

		if next.cb != nil {
			next.cb(reply)
		}
	}
}

func (c *Conn) failInflight() {
	c.mu.Lock()
	batch := c.inflight
	c.inflight = nil
	c.mu.Unlock()

	for _, p := range batch {
		if p.cb != nil {
			p.cb(Reply{Kind: ReplyUnusableInstance, ErrMsg: "connection lost"})
		}
	}
}

func writeCommand(w *bufio.Writer, args []string) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(args)); err != nil {
		return err
	}
	for _, a := range args {
		if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(a), a); err != nil {
			return err
		}
	}
	return nil
}

func readReply(r *bufio.Reader) (Reply, error) {
	line, err := readLine(r)
	if err != nil {
		return Reply{}, err
	}
	if len(line) == 0 {
		return Reply{}, errors.New("redisconn: empty reply line")
	}

	switch line[0] {
	case '+':
		return Reply{Kind: ReplyString, Str: line[1:]}, nil
	case '-':
		return classifyError(line[1:]), nil
	case ':':
		n, err := strconv.ParseInt(line[1:], 10, 64)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: ReplyInt, Int: n}, nil
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return Reply{}, err
		}
		if n < 0 {
			return Reply{Kind: ReplyNil}, nil
		}
		buf := make([]byte, n+2)
		if _, err := readFull(r, buf); err != nil {
			return Reply{}, err
		}
		return Reply{Kind: ReplyString, Str: string(buf[:n])}, nil
	case '*':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return Reply{}, err
		}
		if n < 0 {
			return Reply{Kind: ReplyNil}, nil
		}
		items := make([]Reply, n)
		for i := 0; i < n; i++ {
			item, err := readReply(r)
			if err != nil {
				return Reply{}, err
			}
			items[i] = item
		}
		return Reply{Kind: ReplyArray, Array: items}, nil
	default:
		return Reply{}, fmt.Errorf("redisconn: unknown reply prefix %q", line[0])
	}
}

// classifyError maps a RESP error message onto the ReplyKind predicates the
// core relies on (spec.md §6): -MOVED, -ASK, readonly demotion, and the
// generic "server cannot presently serve" class (LOADING/CLUSTERDOWN/
// TRYAGAIN), falling back to a plain error otherwise.
func classifyError(msg string) Reply {
	upper := strings.ToUpper(msg)
	switch {
	case strings.HasPrefix(upper, "MOVED"):
		return Reply{Kind: ReplyErrorMoved, ErrMsg: msg}
	case strings.HasPrefix(upper, "ASK"):
		return Reply{Kind: ReplyErrorAsk, ErrMsg: msg}
	case strings.HasPrefix(upper, "READONLY"):
		return Reply{Kind: ReplyReadonly, ErrMsg: msg}
	case strings.HasPrefix(upper, "LOADING"), strings.HasPrefix(upper, "CLUSTERDOWN"), strings.HasPrefix(upper, "TRYAGAIN"):
		return Reply{Kind: ReplyUnusableInstance, ErrMsg: msg}
	default:
		return Reply{Kind: ReplyError, ErrMsg: msg}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
