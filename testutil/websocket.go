package testutil

import (
	"sync"

	"github.com/onnwee/stream-bridge/wsconn"
)

// FakeSocket is a scripted wsconn.Socket. Tests move it between states and
// push inbound frames; everything sent is recorded.
type FakeSocket struct {
	URL string

	mu      sync.Mutex
	state   wsconn.State
	inbound []string
	sent    []string
	closed  int
	err     error
}

func (s *FakeSocket) State() wsconn.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the socket to st.
func (s *FakeSocket) SetState(st wsconn.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Push queues inbound frames for the next Receive.
func (s *FakeSocket) Push(frames ...string) {
	s.mu.Lock()
	s.inbound = append(s.inbound, frames...)
	s.mu.Unlock()
}

func (s *FakeSocket) Receive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inbound
	s.inbound = nil
	return out
}

func (s *FakeSocket) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != wsconn.Open {
		return wsconn.ErrNotOpen
	}
	s.sent = append(s.sent, text)
	return nil
}

// Sent returns the frames sent so far.
func (s *FakeSocket) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *FakeSocket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	if s.state != wsconn.Failed {
		s.state = wsconn.Disconnected
	}
}

// Closed returns how many times Close was called.
func (s *FakeSocket) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FakeSocket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FakeDialer hands out FakeSockets in the Connecting state and remembers them.
type FakeDialer struct {
	mu      sync.Mutex
	Sockets []*FakeSocket
}

func (d *FakeDialer) Dial(url string) wsconn.Socket {
	s := &FakeSocket{URL: url, state: wsconn.Connecting}
	d.mu.Lock()
	d.Sockets = append(d.Sockets, s)
	d.mu.Unlock()
	return s
}

// Dials returns the number of connection attempts.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Sockets)
}

// Last returns the most recent socket or nil.
func (d *FakeDialer) Last() *FakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Sockets) == 0 {
		return nil
	}
	return d.Sockets[len(d.Sockets)-1]
}
