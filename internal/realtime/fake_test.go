package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
)

const (
	testOpenFrame = `0{"sid":"eio-1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`
	testAckFrame  = `40{"sid":"sio-1"}`
)

var errDialRefused = errors.New("dial tcp: connection refused")

// fakeConn is an in-memory transport; the test plays the server.
type fakeConn struct {
	inbound   chan string
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []string
}

func newFakeConn(preload ...string) *fakeConn {
	c := &fakeConn{
		inbound: make(chan string, 64),
		closed:  make(chan struct{}),
	}
	for _, frame := range preload {
		c.inbound <- frame
	}
	return c
}

func (c *fakeConn) ReadText() (string, error) {
	select {
	case <-c.closed:
		return "", io.EOF
	default:
	}
	select {
	case text := <-c.inbound:
		return text, nil
	case <-c.closed:
		return "", io.EOF
	}
}

func (c *fakeConn) WriteText(text string) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, text)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) {
	c.inbound <- frame
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) wrote(frame string) bool {
	for _, f := range c.frames() {
		if f == frame {
			return true
		}
	}
	return false
}

// fakeDialer fails the first failFirst dials (all of them when failAll) and
// hands out connections preloaded with the handshake otherwise.
type fakeDialer struct {
	mu        sync.Mutex
	dials     int
	failFirst int
	failAll   bool
	preload   []string
	conns     []*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{preload: []string{testOpenFrame, testAckFrame}}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAll || d.dials <= d.failFirst {
		return nil, errDialRefused
	}
	conn := newFakeConn(d.preload...)
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
