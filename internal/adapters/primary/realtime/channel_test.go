package realtime_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/service-desk-realtime/internal/adapters/primary/realtime"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// controlFrame mirrors the subscribe/unsubscribe messages the channel sends.
type controlFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// gateway is a fake push endpoint: it records every accepted connection and
// the control frames it receives, and lets tests push frames downstream.
type gateway struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	frames chan controlFrame
}

func newGateway(t *testing.T, wantToken string) *gateway {
	t.Helper()
	upgrader := websocket.Upgrader{}
	g := &gateway{
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan controlFrame, 16),
	}

	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.conns <- conn
		go func() {
			for {
				var frame controlFrame
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				g.frames <- frame
			}
		}()
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *gateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *gateway) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-g.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("gateway saw no connection")
		return nil
	}
}

func (g *gateway) expectFrame(t *testing.T, frameType, topic string) {
	t.Helper()
	select {
	case frame := <-g.frames:
		assert.Equal(t, frameType, frame.Type)
		assert.Equal(t, topic, frame.Topic)
	case <-time.After(2 * time.Second):
		t.Fatalf("gateway never received %s %s", frameType, topic)
	}
}

// captureSink collects delivered events and signals each arrival.
type captureSink struct {
	mu     sync.Mutex
	events []domain.RawEvent
	ch     chan domain.RawEvent
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan domain.RawEvent, 16)}
}

func (s *captureSink) Deliver(ev domain.RawEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.ch <- ev
}

func (s *captureSink) next(t *testing.T) domain.RawEvent {
	t.Helper()
	select {
	case ev := <-s.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return domain.RawEvent{}
	}
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testConfig(url string) realtime.Config {
	return realtime.Config{
		URL:              url,
		HandshakeTimeout: 2 * time.Second,
		WriteWait:        2 * time.Second,
		PongWait:         10 * time.Second,
		ReconnectInitial: 20 * time.Millisecond,
		ReconnectMax:     100 * time.Millisecond,
	}
}

func TestChannel_RequiresToken(t *testing.T) {
	g := newGateway(t, "secret")
	ch := realtime.NewChannel(testConfig(g.url()), func() string { return "" }, testLogger())
	defer ch.Close()

	err := ch.Connect(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsAuth(err))
	assert.Equal(t, domain.StateClosed, ch.State())
	assert.Empty(t, g.conns)
}

func TestChannel_ConnectSubscribeDeliver(t *testing.T) {
	g := newGateway(t, "secret")
	sink := newCaptureSink()

	ch := realtime.NewChannel(testConfig(g.url()), func() string { return "secret" }, testLogger())
	defer ch.Close()
	ch.AddSink(sink)
	ch.Subscribe(domain.PersonalTopic())

	require.NoError(t, ch.Connect(context.Background()))
	conn := g.accept(t)
	g.expectFrame(t, "subscribe", "personal")
	require.Eventually(t, func() bool { return ch.State() == domain.StateOpen },
		2*time.Second, 10*time.Millisecond)

	err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"notification","topic":"personal","payload":{"id":"n-1","kind":"ticket_created","message":"New ticket"}}`))
	require.NoError(t, err)

	ev := sink.next(t)
	assert.Equal(t, "n-1", ev.ID)
	assert.Equal(t, domain.EventNotification, ev.Type)
}

func TestChannel_ChatFramesGetSyntheticIDs(t *testing.T) {
	g := newGateway(t, "secret")
	sink := newCaptureSink()

	ch := realtime.NewChannel(testConfig(g.url()), func() string { return "secret" }, testLogger())
	defer ch.Close()
	ch.AddSink(sink)
	ch.Subscribe(domain.TicketTopic(42))

	require.NoError(t, ch.Connect(context.Background()))
	conn := g.accept(t)
	g.expectFrame(t, "subscribe", "ticket:42")

	err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"chat_message","topic":"ticket:42","payload":{"messageId":"m-9","roomId":"room-1","senderName":"Dana","body":"any update?"}}`))
	require.NoError(t, err)

	ev := sink.next(t)
	assert.Equal(t, "chat-m-9", ev.ID)
	assert.Equal(t, domain.EventChatMessage, ev.Type)
}

func TestChannel_MalformedFramesAreDroppedNotFatal(t *testing.T) {
	g := newGateway(t, "secret")
	sink := newCaptureSink()

	ch := realtime.NewChannel(testConfig(g.url()), func() string { return "secret" }, testLogger())
	defer ch.Close()
	ch.AddSink(sink)
	ch.Subscribe(domain.PersonalTopic())

	require.NoError(t, ch.Connect(context.Background()))
	conn := g.accept(t)
	g.expectFrame(t, "subscribe", "personal")

	// Garbage, then an unknown type, then a valid frame on the same connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"mystery","topic":"personal","payload":{}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"notification","topic":"personal","payload":{"id":"n-2","kind":"generic","message":"still here"}}`)))

	ev := sink.next(t)
	assert.Equal(t, "n-2", ev.ID)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, domain.StateOpen, ch.State())
}

func TestChannel_DropsFramesForUnsubscribedTopics(t *testing.T) {
	g := newGateway(t, "secret")
	sink := newCaptureSink()

	ch := realtime.NewChannel(testConfig(g.url()), func() string { return "secret" }, testLogger())
	defer ch.Close()
	ch.AddSink(sink)
	ch.Subscribe(domain.PersonalTopic())

	require.NoError(t, ch.Connect(context.Background()))
	conn := g.accept(t)
	g.expectFrame(t, "subscribe", "personal")

	// In-flight frame for a room we already left.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"chat_message","topic":"ticket:9","payload":{"messageId":"m-1","body":"late"}}`)))
	// Topicless frames belong to the personal feed and pass.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"notification","payload":{"id":"n-3","kind":"generic","message":"mine"}}`)))

	ev := sink.next(t)
	assert.Equal(t, "n-3", ev.ID)
	assert.Equal(t, 1, sink.count())
}

func TestChannel_TopicSwitchSendsUnsubscribeFirst(t *testing.T) {
	g := newGateway(t, "secret")

	ch := realtime.NewChannel(testConfig(g.url()), func() string { return "secret" }, testLogger())
	defer ch.Close()
	ch.Subscribe(domain.PersonalTopic())

	require.NoError(t, ch.Connect(context.Background()))
	g.accept(t)
	g.expectFrame(t, "subscribe", "personal")

	ch.Subscribe(domain.TicketTopic(7))
	g.expectFrame(t, "subscribe", "ticket:7")

	ch.Unsubscribe(domain.TicketTopic(7))
	ch.Subscribe(domain.TicketTopic(8))
	g.expectFrame(t, "unsubscribe", "ticket:7")
	g.expectFrame(t, "subscribe", "ticket:8")
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	g := newGateway(t, "secret")

	var opens sync.WaitGroup
	opens.Add(2)

	ch := realtime.NewChannel(testConfig(g.url()), func() string { return "secret" }, testLogger())
	defer ch.Close()
	ch.Subscribe(domain.PersonalTopic())
	ch.OnOpen(func() { opens.Done() })

	require.NoError(t, ch.Connect(context.Background()))
	first := g.accept(t)
	g.expectFrame(t, "subscribe", "personal")

	// Kill the connection server-side; the channel must dial again and replay
	// its subscriptions on the fresh socket.
	_ = first.Close()

	g.accept(t)
	g.expectFrame(t, "subscribe", "personal")
	require.Eventually(t, func() bool { return ch.State() == domain.StateOpen },
		2*time.Second, 10*time.Millisecond)

	waitDone := make(chan struct{})
	go func() {
		opens.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("open callback did not fire for the reconnect")
	}
	assert.Zero(t, ch.Attempts())
}

func TestChannel_CloseStopsReconnecting(t *testing.T) {
	g := newGateway(t, "secret")

	ch := realtime.NewChannel(testConfig(g.url()), func() string { return "secret" }, testLogger())
	ch.Subscribe(domain.PersonalTopic())

	require.NoError(t, ch.Connect(context.Background()))
	conn := g.accept(t)

	ch.Close()
	assert.Equal(t, domain.StateClosed, ch.State())

	// No new dial after teardown, even after the backoff interval elapses.
	_ = conn.Close()
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, g.conns)
}
