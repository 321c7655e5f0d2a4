package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/p-blackswan/fleet-dashboard/internal/apierrors"
	"github.com/p-blackswan/fleet-dashboard/internal/liststate"
	"github.com/p-blackswan/fleet-dashboard/internal/model"
	"github.com/p-blackswan/fleet-dashboard/internal/protocol"
	"github.com/p-blackswan/fleet-dashboard/internal/topic"
)

// mockServer simulates the dashboard websocket endpoint.
type mockServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	// ackRequests controls whether subscribe/unsubscribe get acknowledged.
	ackRequests bool

	mu       sync.Mutex
	conn     *websocket.Conn
	requests []protocol.Frame
}

func newMockServer(t *testing.T, ack bool) *mockServer {
	ms := &mockServer{
		t:           t,
		ackRequests: ack,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handle))
	t.Cleanup(ms.close)
	return ms
}

func (ms *mockServer) url() string {
	return "ws" + strings.TrimPrefix(ms.server.URL, "http")
}

func (ms *mockServer) close() {
	ms.mu.Lock()
	if ms.conn != nil {
		ms.conn.Close()
	}
	ms.mu.Unlock()
	ms.server.Close()
}

func (ms *mockServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := ms.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ms.mu.Lock()
	ms.conn = conn
	ms.mu.Unlock()

	for {
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		ms.mu.Lock()
		ms.requests = append(ms.requests, frame)
		ms.mu.Unlock()
		if ms.ackRequests {
			_ = conn.WriteJSON(protocol.OKResponse(frame.ID))
		}
	}
}

func (ms *mockServer) sendEvent(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	require.NotNil(t, ms.conn)
	require.NoError(t, ms.conn.WriteJSON(protocol.Frame{
		Type: protocol.TypeEvent, Event: event, Payload: raw,
	}))
}

func (ms *mockServer) recordedRequests() []protocol.Frame {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]protocol.Frame(nil), ms.requests...)
}

func newTestClient(t *testing.T, ms *mockServer, cfg Config) (*Client, *liststate.Engine) {
	t.Helper()
	cfg.URL = ms.url()
	engine := liststate.New(liststate.Config{ThrottleWindow: 10 * time.Millisecond}, zerolog.Nop())
	c := New(cfg, engine, zerolog.Nop())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c, engine
}

func TestSubscribeAcknowledged(t *testing.T) {
	ms := newMockServer(t, true)
	c, _ := newTestClient(t, ms, Config{})

	d := topic.Descriptor{Namespace: "garden-core"}
	require.NoError(t, c.SetSubscription(context.Background(), &d))

	reqs := ms.recordedRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, protocol.MethodSubscribe, reqs[0].Method)

	var params protocol.SubscribeParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))
	assert.Equal(t, model.TopicShoots, params.Topic)
	assert.Equal(t, d.EncodeFilter(), params.Filter)

	got := c.Subscription()
	require.NotNil(t, got)
	assert.Equal(t, d, *got)
}

func TestSubscribeTimeoutIsDistinctError(t *testing.T) {
	ms := newMockServer(t, false) // never acknowledges
	c, _ := newTestClient(t, ms, Config{AckTimeout: 100 * time.Millisecond})

	d := topic.Descriptor{Namespace: "garden-core"}
	err := c.SetSubscription(context.Background(), &d)
	require.Error(t, err)

	assert.True(t, apierrors.IsTimeout(err))
	var timeoutErr *apierrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, protocol.MethodSubscribe, timeoutErr.Method)

	var subErr *apierrors.SubscriptionError
	assert.False(t, errors.As(err, &subErr), "a timeout is not a server rejection")
	assert.Nil(t, c.Subscription(), "a timed-out subscribe never becomes active")
}

func TestOnlyIssuesAugmentsAllNamespaces(t *testing.T) {
	ms := newMockServer(t, true)
	c, _ := newTestClient(t, ms, Config{OnlyIssues: true})

	require.NoError(t, c.SetSubscription(context.Background(), &topic.Descriptor{}))

	reqs := ms.recordedRequests()
	require.Len(t, reqs, 1)
	var params protocol.SubscribeParams
	require.NoError(t, json.Unmarshal(reqs[0].Params, &params))

	parsed, err := topic.ParseFilter(params.Filter)
	require.NoError(t, err)
	assert.True(t, parsed.UnhealthyOnly, "all-namespaces subscriptions are augmented")

	got := c.Subscription()
	require.NotNil(t, got)
	assert.True(t, got.UnhealthyOnly)
}

func TestOnlyIssuesDoesNotTouchNarrowScopes(t *testing.T) {
	ms := newMockServer(t, true)
	c, _ := newTestClient(t, ms, Config{OnlyIssues: true})

	require.NoError(t, c.SetSubscription(context.Background(), &topic.Descriptor{Namespace: "garden-core"}))

	got := c.Subscription()
	require.NotNil(t, got)
	assert.False(t, got.UnhealthyOnly, "namespace scope is never augmented")
}

func TestEventsFlowIntoEngine(t *testing.T) {
	ms := newMockServer(t, true)
	c, engine := newTestClient(t, ms, Config{})
	require.NoError(t, c.SetSubscription(context.Background(), &topic.Descriptor{Namespace: "garden-core"}))

	shoot := &model.Shoot{Namespace: "garden-core", Name: "api", ResourceVersion: "1"}
	ms.sendEvent(t, model.TopicShoots, model.ShootEvent{Type: watch.Added, Object: shoot})

	assert.Eventually(t, func() bool { return engine.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ms.sendEvent(t, model.TopicTickets, model.TicketEvent{Type: watch.Added, Object: &model.Ticket{
		Number: 1, Namespace: "garden-core", Name: "api", UpdatedAt: time.Now(),
	}})
	key := model.Key{Namespace: "garden-core", Name: "api"}
	assert.Eventually(t, func() bool { return len(engine.TicketsFor(key)) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestUnsubscribeClearsStateImmediately(t *testing.T) {
	ms := newMockServer(t, true)
	c, engine := newTestClient(t, ms, Config{})
	require.NoError(t, c.SetSubscription(context.Background(), &topic.Descriptor{Namespace: "garden-core"}))

	shoot := &model.Shoot{Namespace: "garden-core", Name: "api", ResourceVersion: "1"}
	ms.sendEvent(t, model.TopicShoots, model.ShootEvent{Type: watch.Added, Object: shoot})
	require.Eventually(t, func() bool { return engine.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SetSubscription(context.Background(), nil))

	assert.Equal(t, 0, engine.Len())
	assert.Empty(t, engine.SortedAndFilteredKeys())
	assert.Nil(t, c.Subscription())

	reqs := ms.recordedRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, protocol.MethodUnsubscribe, reqs[1].Method)
}

func TestSetSubscriptionRejectsInvalidDescriptor(t *testing.T) {
	ms := newMockServer(t, true)
	c, _ := newTestClient(t, ms, Config{})

	err := c.SetSubscription(context.Background(), &topic.Descriptor{Name: "orphan"})
	require.Error(t, err)
	assert.Empty(t, ms.recordedRequests(), "invalid descriptors are rejected before any request")
}

func TestRequestWithoutConnection(t *testing.T) {
	engine := liststate.New(liststate.Config{}, zerolog.Nop())
	c := New(Config{URL: "ws://127.0.0.1:0"}, engine, zerolog.Nop())

	err := c.SetSubscription(context.Background(), &topic.Descriptor{})
	assert.ErrorIs(t, err, apierrors.ErrClosed)
}
