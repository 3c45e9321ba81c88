package push

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, h *Hub, sessionID, userID string, conn Conn) uuid.UUID {
	t.Helper()
	id, err := h.Register(sessionID, userID, BackendWebSocket, conn)
	require.NoError(t, err)
	return id
}

func TestHub_BroadcastReachesEveryConnection(t *testing.T) {
	hub := newTestHub(t, HubConfig{}, nil)
	a, b := newFakeConn(), newFakeConn()
	register(t, hub, "s1", "u1", a)
	register(t, hub, "s2", "u2", b)

	require.NoError(t, hub.Broadcast(domain.MessageWorkflowUsersChanged, map[string]string{"k": "v"}))

	for _, conn := range []*fakeConn{a, b} {
		env := conn.next(t)
		assert.Equal(t, domain.MessageWorkflowUsersChanged, env.Type)
		assert.Equal(t, map[string]any{"k": "v"}, env.Data)
	}
}

func TestHub_SendToSession(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPushMetrics(reg)
	hub := newTestHub(t, HubConfig{Metrics: m}, nil)
	a, b := newFakeConn(), newFakeConn()
	register(t, hub, "s1", "u1", a)
	register(t, hub, "s2", "u2", b)

	require.NoError(t, hub.SendToSession(domain.MessageWorkflowChanged, "hello", "s2"))
	assert.Equal(t, "hello", b.next(t).Data)
	a.assertNoWrite(t)

	require.NoError(t, hub.SendToSession(domain.MessageWorkflowChanged, "lost", "unknown"))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.MessagesDropped.WithLabelValues(metrics.DropUnknownSession)) == 1
	}, time.Second, 5*time.Millisecond)
	a.assertNoWrite(t)
	b.assertNoWrite(t)
}

func TestHub_SendToUser_NewestSession(t *testing.T) {
	hub := newTestHub(t, HubConfig{Addressing: AddressNewest}, nil)
	older, newer := newFakeConn(), newFakeConn()
	register(t, hub, "s1", "u1", older)
	register(t, hub, "s2", "u1", newer)

	require.NoError(t, hub.SendToUser(domain.MessageWorkflowChanged, "draft", "u1"))
	assert.Equal(t, "draft", newer.next(t).Data)
	older.assertNoWrite(t)

	// An inbound message on the older session makes it the newest again.
	hub.Touch("s1", "u1")
	require.NoError(t, hub.SendToUser(domain.MessageWorkflowChanged, "again", "u1"))
	assert.Equal(t, "again", older.next(t).Data)
	newer.assertNoWrite(t)
}

func TestHub_SendToUser_AllSessions(t *testing.T) {
	hub := newTestHub(t, HubConfig{Addressing: AddressAll}, nil)
	a, b, other := newFakeConn(), newFakeConn(), newFakeConn()
	register(t, hub, "s1", "u1", a)
	register(t, hub, "s2", "u1", b)
	register(t, hub, "s3", "u2", other)

	require.NoError(t, hub.SendToUser(domain.MessageWorkflowChanged, "draft", "u1"))
	assert.Equal(t, "draft", a.next(t).Data)
	assert.Equal(t, "draft", b.next(t).Data)
	other.assertNoWrite(t)
}

func TestHub_SendToUser_StaleSessionDropped(t *testing.T) {
	hub := newTestHub(t, HubConfig{}, nil)
	conn := newFakeConn()
	id := register(t, hub, "s1", "u1", conn)
	hub.Unregister("s1", id)
	require.True(t, waitForConnectionCount(hub, 0))

	require.NoError(t, hub.SendToUser(domain.MessageWorkflowChanged, "draft", "u1"))
	conn.assertNoWrite(t)
}

func TestHub_SessionCollisionDisplacesOldConnection(t *testing.T) {
	hub := newTestHub(t, HubConfig{}, nil)
	first, second := newFakeConn(), newFakeConn()
	firstID := register(t, hub, "s1", "u1", first)
	register(t, hub, "s1", "u1", second)

	require.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, "session replaced", first.reason())
	assert.Equal(t, 1, hub.ConnectionCount())

	// The displaced connection's late unregister must not remove the new one.
	hub.Unregister("s1", firstID)
	assert.Equal(t, 1, hub.ConnectionCount())

	require.NoError(t, hub.SendToSession(domain.MessageWorkflowChanged, "x", "s1"))
	assert.Equal(t, "x", second.next(t).Data)
}

func TestHub_DisplacingBusyConnectionDoesNotStallHub(t *testing.T) {
	hub := newTestHub(t, HubConfig{}, nil)
	busy := newBlockingConn()
	register(t, hub, "s1", "u1", busy)
	require.NoError(t, hub.Broadcast(domain.MessageWorkflowChanged, "stuck"))
	busy.waitWriting(t)

	other := newFakeConn()
	register(t, hub, "s2", "u2", other)

	start := time.Now()
	register(t, hub, "s1", "u1", newFakeConn())
	require.NoError(t, hub.SendToSession(domain.MessageWorkflowChanged, "x", "s2"))
	assert.Equal(t, "x", other.next(t).Data)
	assert.Less(t, time.Since(start), gracefulCloseTimeout/2)

	// The stuck write is aborted after the grace period.
	require.Eventually(t, busy.isClosed, 2*gracefulCloseTimeout, 10*time.Millisecond)
	assert.Empty(t, busy.reason())
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := newTestHub(t, HubConfig{}, nil)
	conn := newFakeConn()
	id := register(t, hub, "s1", "u1", conn)

	hub.Unregister("s1", id)
	hub.Unregister("s1", id)
	hub.Unregister("never-registered", uuid.New())

	assert.True(t, waitForConnectionCount(hub, 0))
	assert.True(t, conn.isClosed())
}

func TestHub_MaxConnections(t *testing.T) {
	hub := newTestHub(t, HubConfig{MaxConnections: 1}, nil)
	register(t, hub, "s1", "u1", newFakeConn())

	_, err := hub.Register("s2", "u2", BackendWebSocket, newFakeConn())
	require.ErrorIs(t, err, domain.ErrTooManyConnections)

	// Replacing an existing session does not count against the limit.
	_, err = hub.Register("s1", "u1", BackendWebSocket, newFakeConn())
	require.NoError(t, err)
}

func TestHub_SlowClientEvicted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPushMetrics(reg)
	hub := newTestHub(t, HubConfig{Metrics: m}, nil)
	slow, fast := newBlockingConn(), newFakeConn()
	register(t, hub, "slow", "u1", slow)
	register(t, hub, "fast", "u2", fast)

	// One frame is held by the blocked writer, the buffer takes the rest.
	for range messageBufferSize + 2 {
		require.NoError(t, hub.Broadcast(domain.MessageWorkflowChanged, "x"))
	}

	require.True(t, waitForConnectionCount(hub, 1))
	assert.True(t, slow.isClosed())
	assert.InDelta(t, 1, testutil.ToFloat64(m.SlowClientEvictions), 0)

	require.NoError(t, hub.SendToSession(domain.MessageWorkflowChanged, "still here", "fast"))
	var last domain.Envelope
	for range messageBufferSize + 3 {
		last = fast.next(t)
		if last.Data == "still here" {
			break
		}
	}
	assert.Equal(t, "still here", last.Data)
}

func TestHub_LivenessEvictsUnansweredConnection(t *testing.T) {
	clock := clockwork.NewFakeClock()
	disconnected := make(chan string, 1)
	hub := newTestHub(t, HubConfig{
		PingInterval: time.Minute,
		OnDisconnect: func(userID string) { disconnected <- userID },
	}, clock)
	blockUntilTicker(t, clock)

	conn := newProbeConn()
	register(t, hub, "s1", "u1", conn)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return conn.pingCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.ConnectionCount())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return conn.isClosed() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.ConnectionCount())
	assert.Equal(t, 1, conn.pingCount())

	select {
	case userID := <-disconnected:
		assert.Equal(t, "u1", userID)
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect not called")
	}
}

func TestHub_LivenessKeepsAnsweringConnection(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hub := newTestHub(t, HubConfig{PingInterval: time.Minute}, clock)
	blockUntilTicker(t, clock)

	conn := newProbeConn()
	id := register(t, hub, "s1", "u1", conn)
	conn.answerPings(func() { hub.MarkAlive("s1", id) })

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Minute)
		require.Eventually(t, func() bool { return conn.pingCount() == i }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, hub.ConnectionCount())
	}
	assert.False(t, conn.isClosed())
}

func TestHub_LivenessSkipsConnectionsWithoutProbe(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hub := newTestHub(t, HubConfig{PingInterval: time.Minute}, clock)
	blockUntilTicker(t, clock)

	conn := newFakeConn()
	register(t, hub, "s1", "u1", conn)

	for range 3 {
		clock.Advance(time.Minute)
		assert.Equal(t, 1, hub.ConnectionCount())
	}
	assert.False(t, conn.isClosed())
}

func TestHub_OnDisconnectOnlyForLastConnection(t *testing.T) {
	disconnected := make(chan string, 2)
	hub := newTestHub(t, HubConfig{OnDisconnect: func(userID string) { disconnected <- userID }}, nil)
	id1 := register(t, hub, "s1", "u1", newFakeConn())
	id2 := register(t, hub, "s2", "u1", newFakeConn())

	hub.Unregister("s1", id1)
	require.True(t, waitForConnectionCount(hub, 1))
	select {
	case <-disconnected:
		t.Fatal("OnDisconnect called while the user still has a connection")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister("s2", id2)
	select {
	case userID := <-disconnected:
		assert.Equal(t, "u1", userID)
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect not called")
	}
}

func TestHub_OnDisconnectSkippedWhenUserReconnects(t *testing.T) {
	disconnected := make(chan string, 1)
	hub := newTestHub(t, HubConfig{OnDisconnect: func(userID string) { disconnected <- userID }}, nil)
	gated := newGatedConn()
	id := register(t, hub, "s1", "u1", gated)

	// Hold the actor inside the unregister so the reconnect queues up behind it.
	hub.Unregister("s1", id)
	gated.waitClosing(t)

	registered := make(chan error, 1)
	go func() {
		_, err := hub.Register("s2", "u1", BackendWebSocket, newFakeConn())
		registered <- err
	}()
	require.Eventually(t, func() bool { return len(hub.cmdCh) > 0 }, time.Second, time.Millisecond)
	gated.release()

	require.NoError(t, <-registered)
	select {
	case <-disconnected:
		t.Fatal("OnDisconnect called although the user reconnected")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, hub.ConnectionCount())
}

func TestHub_OnConnect(t *testing.T) {
	connected := make(chan [2]string, 1)
	hub := newTestHub(t, HubConfig{OnConnect: func(sessionID, userID string) { connected <- [2]string{sessionID, userID} }}, nil)
	register(t, hub, "s1", "u1", newFakeConn())

	select {
	case got := <-connected:
		assert.Equal(t, [2]string{"s1", "u1"}, got)
	case <-time.After(time.Second):
		t.Fatal("OnConnect not called")
	}
}

func TestHub_StopClosesConnectionsGracefully(t *testing.T) {
	hub := NewHub(HubConfig{}, clockwork.NewRealClock())
	conn := newFakeConn()
	register(t, hub, "s1", "u1", conn)

	hub.Stop()

	assert.True(t, conn.isClosed())
	assert.Equal(t, "server shutting down", conn.reason())
	assert.ErrorIs(t, hub.Broadcast(domain.MessageWorkflowChanged, "x"), domain.ErrHubStopped)
	_, err := hub.Register("s2", "u2", BackendWebSocket, newFakeConn())
	assert.ErrorIs(t, err, domain.ErrHubStopped)
}

func TestHub_BroadcastRejectsUnmarshalableData(t *testing.T) {
	hub := newTestHub(t, HubConfig{}, nil)
	err := hub.Broadcast(domain.MessageWorkflowChanged, make(chan int))
	assert.Error(t, err)
}
