package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeConn records every frame written to it.
type fakeConn struct {
	mu          sync.Mutex
	writes      chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	closeReason string
	block       bool
	writing     chan struct{}

	// closeGate, when set, holds Close until it is closed.
	closeGate chan struct{}
	closing   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		writes: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// newBlockingConn returns a conn whose writes hang until it is closed.
func newBlockingConn() *fakeConn {
	c := newFakeConn()
	c.block = true
	c.writing = make(chan struct{}, 1)
	return c
}

func (c *fakeConn) Write(data []byte) error {
	if c.block {
		select {
		case c.writing <- struct{}{}:
		default:
		}
		<-c.closed
		return errors.New("closed")
	}
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.writes <- data
	return nil
}

// waitWriting blocks until a write is in progress on a blocking conn.
func (c *fakeConn) waitWriting(t *testing.T) {
	t.Helper()
	select {
	case <-c.writing:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a write to start")
	}
}

// newGatedConn returns a conn whose Close hangs until release is called.
func newGatedConn() *fakeConn {
	c := newFakeConn()
	c.closeGate = make(chan struct{})
	c.closing = make(chan struct{}, 1)
	return c
}

func (c *fakeConn) release() {
	close(c.closeGate)
}

func (c *fakeConn) waitClosing(t *testing.T) {
	t.Helper()
	select {
	case <-c.closing:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Close")
	}
}

func (c *fakeConn) Close() error {
	if c.closeGate != nil {
		select {
		case c.closing <- struct{}{}:
		default:
		}
		<-c.closeGate
	}
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) CloseWithReason(reason string) error {
	c.mu.Lock()
	c.closeReason = reason
	c.mu.Unlock()
	return c.Close()
}

func (c *fakeConn) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// next returns the next envelope written to the conn or fails the test.
func (c *fakeConn) next(t *testing.T) domain.Envelope {
	t.Helper()
	select {
	case data := <-c.writes:
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a write")
		return domain.Envelope{}
	}
}

func (c *fakeConn) assertNoWrite(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.writes:
		t.Fatalf("unexpected write: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

// probeConn is a fakeConn that supports liveness probes.
type probeConn struct {
	*fakeConn
	pingMu sync.Mutex
	pings  int
	onPing func()
}

func newProbeConn() *probeConn {
	return &probeConn{fakeConn: newFakeConn()}
}

func (c *probeConn) Ping() error {
	c.pingMu.Lock()
	c.pings++
	onPing := c.onPing
	c.pingMu.Unlock()

	if onPing != nil {
		onPing()
	}
	return nil
}

func (c *probeConn) pingCount() int {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.pings
}

func (c *probeConn) answerPings(fn func()) {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	c.onPing = fn
}

type staticIdentity struct {
	userID string
	err    error
}

func (s staticIdentity) ResolveUser(*http.Request) (string, error) {
	return s.userID, s.err
}

func newTestHub(t *testing.T, cfg HubConfig, clock clockwork.Clock) *Hub {
	t.Helper()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	hub := NewHub(cfg, clock)
	t.Cleanup(hub.Stop)
	return hub
}

func waitForConnectionCount(h *Hub, expected int) bool {
	for range 200 {
		if h.ConnectionCount() == expected {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func blockUntilTicker(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}
