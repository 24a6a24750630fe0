// Package wsconn wraps gorilla/websocket in a non-blocking socket suitable
// for tick-driven clients: dialing, reading and writing happen on goroutines
// and the owner polls State and drains Receive once per tick.
package wsconn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle of one socket.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether the socket is connecting, open or closing.
func (s State) Active() bool { return s == Connecting || s == Open || s == Closing }

var (
	ErrNotOpen       = errors.New("wsconn: socket not open")
	ErrSendQueueFull = errors.New("wsconn: send queue full")
)

// Socket is a text-frame websocket that never blocks its caller.
type Socket interface {
	State() State
	// Receive returns frames that arrived since the last call.
	Receive() []string
	// Send queues a text frame; it fails unless the socket is Open.
	Send(text string) error
	// Close starts an orderly shutdown. Safe in any state and more than once.
	Close()
	// Err returns the error that ended the socket, if any.
	Err() error
}

// Dialer starts a connection attempt and returns immediately.
type Dialer interface {
	Dial(url string) Socket
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
	InboxSize    int
	OutboxSize   int
}

// Dial returns a socket in the Connecting state.
func (d *GorillaDialer) Dial(url string) Socket {
	wd := d.Dialer
	if wd == nil {
		wd = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	inbox, outbox := d.InboxSize, d.OutboxSize
	if inbox <= 0 {
		inbox = 256
	}
	if outbox <= 0 {
		outbox = 64
	}
	wt := d.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		inbox:        make(chan string, inbox),
		outbox:       make(chan string, outbox),
		writeTimeout: wt,
		ctx:          ctx,
		cancel:       cancel,
	}
	c.state.Store(int32(Connecting))
	go c.run(wd, url, d.Header)
	return c
}

// Conn is the gorilla-backed Socket.
type Conn struct {
	state        atomic.Int32
	inbox        chan string
	outbox       chan string
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once

	mu  sync.Mutex
	ws  *websocket.Conn
	err error
}

func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *Conn) run(d *websocket.Dialer, url string, header http.Header) {
	ws, resp, err := d.DialContext(c.ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.setErr(err)
		if c.ctx.Err() != nil {
			c.state.Store(int32(Disconnected))
		} else {
			c.state.Store(int32(Failed))
		}
		c.cancel()
		return
	}

	c.mu.Lock()
	if !c.state.CompareAndSwap(int32(Connecting), int32(Open)) {
		c.mu.Unlock()
		_ = ws.Close()
		c.state.Store(int32(Disconnected))
		return
	}
	c.ws = ws
	c.mu.Unlock()

	go c.writeLoop(ws)
	c.readLoop(ws)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	defer c.finish(ws)
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.setErr(err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		select {
		case c.inbox <- string(data):
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) writeLoop(ws *websocket.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbox:
			_ = ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				c.setErr(err)
				slog.Debug("websocket write failed", slog.String("component", "wsconn"), slog.Any("err", err))
				c.cancel()
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) finish(ws *websocket.Conn) {
	c.cancel()
	_ = ws.Close()
	c.state.Store(int32(Disconnected))
}

// Receive drains buffered frames without blocking.
func (c *Conn) Receive() []string {
	var out []string
	for {
		select {
		case m := <-c.inbox:
			out = append(out, m)
		default:
			return out
		}
	}
}

func (c *Conn) Send(text string) error {
	if c.State() != Open {
		return ErrNotOpen
	}
	select {
	case c.outbox <- text:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		s := c.State()
		if s == Connecting || s == Open {
			c.state.Store(int32(Closing))
		}
		c.cancel()
		go c.shutdown()
	})
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
	}
	if s := c.State(); s != Failed {
		c.state.Store(int32(Disconnected))
	}
}
