package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/broker"
	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/event"
	"github.com/cwrk-planet/chat-service/internal/registry"
)

type mockConn struct {
	id      int64
	mu      sync.Mutex
	frames  []any
	sendErr error
}

func (m *mockConn) UserID() int64 { return m.id }
func (m *mockConn) Close() error  { return nil }

func (m *mockConn) Send(frame any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.frames = append(m.frames, frame)
	return nil
}

func (m *mockConn) received() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.frames...)
}

type fakeSub struct {
	payloads chan []byte
	errs     chan error
}

func (s *fakeSub) Receive(ctx context.Context) ([]byte, error) {
	select {
	case p := <-s.payloads:
		return p, nil
	case err := <-s.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSub) Close() error { return nil }

type fakeBroker struct {
	failSubscribes int32
	subscribeCalls atomic.Int32
	subs           chan *fakeSub

	mu        sync.Mutex
	published [][]byte
}

func newFakeBroker(failFirst int32) *fakeBroker {
	return &fakeBroker{failSubscribes: failFirst, subs: make(chan *fakeSub, 16)}
}

func (b *fakeBroker) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string) (broker.Subscription, error) {
	if n := b.subscribeCalls.Add(1); n <= b.failSubscribes {
		return nil, errors.New("connection refused")
	}
	s := &fakeSub{payloads: make(chan []byte, 16), errs: make(chan error, 1)}
	b.subs <- s
	return s, nil
}

func (b *fakeBroker) nextSub(t *testing.T) *fakeSub {
	t.Helper()
	select {
	case s := <-b.subs:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription")
		return nil
	}
}

func mustEncode(t *testing.T, e event.Event) []byte {
	t.Helper()
	data, err := event.Encode(e)
	require.NoError(t, err)
	return data
}

func fastOpts() Options {
	return Options{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDispatch_RoomMessageIsSelfPerRecipient(t *testing.T) {
	reg := registry.New()
	s, a, b := &mockConn{id: 1}, &mockConn{id: 2}, &mockConn{id: 3}
	for _, c := range []*mockConn{s, a, b} {
		reg.Connect(c, registry.Room(7))
	}

	br := New(newFakeBroker(0), reg, fastOpts())
	n := br.Dispatch(event.RoomMessage{RoomID: 7, SenderID: 1, Text: "hi"})
	assert.Equal(t, 3, n)

	assert.Equal(t, []any{domain.RoomFrame{Message: "hi", IsSelf: true}}, s.received())
	assert.Equal(t, []any{domain.RoomFrame{Message: "hi", IsSelf: false}}, a.received())
	assert.Equal(t, []any{domain.RoomFrame{Message: "hi", IsSelf: false}}, b.received())
}

func TestDispatch_RoomMessageSenderGone(t *testing.T) {
	reg := registry.New()
	a := &mockConn{id: 2}
	reg.Connect(a, registry.Room(7))

	br := New(newFakeBroker(0), reg, fastOpts())
	br.Dispatch(event.RoomMessage{RoomID: 7, SenderID: 1, Text: "hi"})

	assert.Equal(t, []any{domain.RoomFrame{Message: "hi"}}, a.received())
}

func TestDispatch_NotificationForAbsentRecipientIsDropped(t *testing.T) {
	reg := registry.New()
	other := &mockConn{id: 5}
	reg.Connect(other, registry.Global)

	fb := newFakeBroker(0)
	br := New(fb, reg, fastOpts())

	n, err := event.NewMessageNotice(9, 1, "ann", "hi")
	require.NoError(t, err)
	assert.Equal(t, 0, br.Dispatch(n))

	assert.Empty(t, other.received())
	assert.Empty(t, fb.published, "drop must not republish")
}

func TestDispatch_NotificationDeliveredVerbatim(t *testing.T) {
	reg := registry.New()
	rcpt := &mockConn{id: 9}
	reg.Connect(rcpt, registry.Global)

	br := New(newFakeBroker(0), reg, fastOpts())
	n, err := event.NewMessageNotice(9, 1, "ann", "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, br.Dispatch(n))

	got := rcpt.received()
	require.Len(t, got, 1)
	raw, ok := got[0].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"new_message","from_user_id":1,"from_username":"ann","text":"hi"}`, string(raw))
}

func TestDispatch_PresenceFansOutToAllGlobal(t *testing.T) {
	reg := registry.New()
	a, b := &mockConn{id: 1}, &mockConn{id: 2}
	dead := &mockConn{id: 3, sendErr: errors.New("closed")}
	reg.Connect(a, registry.Global)
	reg.Connect(b, registry.Global)
	reg.Connect(dead, registry.Global)
	reg.Connect(&mockConn{id: 4}, registry.Room(1))

	br := New(newFakeBroker(0), reg, fastOpts())
	assert.Equal(t, 2, br.Dispatch(event.Presence{UserID: 8, IsOnline: true}))

	want := domain.PresenceFrame{Type: "presence_update", UserID: 8, IsOnline: true}
	assert.Equal(t, []any{want}, a.received())
	assert.Equal(t, []any{want}, b.received())

	_, _, globals := reg.Stats()
	assert.Equal(t, 2, globals)
}

func TestPublish_EncodesEnvelope(t *testing.T) {
	fb := newFakeBroker(0)
	br := New(fb, registry.New(), fastOpts())

	require.NoError(t, br.Publish(context.Background(), event.Presence{UserID: 1, IsOnline: false}))
	require.Len(t, fb.published, 1)
	assert.JSONEq(t, `{"event_type":"presence","user_id":1,"is_online":false}`, string(fb.published[0]))

	require.Error(t, br.Publish(context.Background(), nil))
}

func TestListen_ResubscribesAfterFailures(t *testing.T) {
	reg := registry.New()
	conn := &mockConn{id: 2}
	reg.Connect(conn, registry.Room(7))

	var statuses []bool
	var statusMu sync.Mutex
	opts := fastOpts()
	opts.OnStatus = func(up bool) {
		statusMu.Lock()
		statuses = append(statuses, up)
		statusMu.Unlock()
	}

	fb := newFakeBroker(2)
	br := New(fb, reg, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Listen(ctx) }()

	sub := fb.nextSub(t)
	<-br.Ready()
	assert.Equal(t, int32(3), fb.subscribeCalls.Load())

	sub.payloads <- []byte(`garbage`)
	sub.payloads <- mustEncode(t, event.RoomMessage{RoomID: 7, SenderID: 1, Text: "first"})
	require.Eventually(t, func() bool { return len(conn.received()) == 1 }, time.Second, 5*time.Millisecond)

	// subscription breaks, listener must come back
	sub.errs <- errors.New("connection reset by peer")
	sub = fb.nextSub(t)
	sub.payloads <- mustEncode(t, event.RoomMessage{RoomID: 7, SenderID: 1, Text: "second"})
	require.Eventually(t, func() bool { return len(conn.received()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	assert.Equal(t, []any{
		domain.RoomFrame{Message: "first"},
		domain.RoomFrame{Message: "second"},
	}, conn.received())

	statusMu.Lock()
	defer statusMu.Unlock()
	assert.Equal(t, []bool{true, false, true, false}, statuses)
}

func TestListen_AcrossInstancesOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	regA, regB := registry.New(), registry.New()
	brA := New(broker.NewRedis(newClient()), regA, fastOpts())
	brB := New(broker.NewRedis(newClient()), regB, fastOpts())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = brA.Listen(ctx) }()
	go func() { _ = brB.Listen(ctx) }()
	<-brA.Ready()
	<-brB.Ready()

	onA, onB := &mockConn{id: 1}, &mockConn{id: 2}
	regA.Connect(onA, registry.Room(7))
	regB.Connect(onB, registry.Room(7))

	require.NoError(t, brA.Publish(ctx, event.RoomMessage{RoomID: 7, SenderID: 1, Text: "hi"}))

	require.Eventually(t, func() bool {
		return len(onA.received()) == 1 && len(onB.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []any{domain.RoomFrame{Message: "hi", IsSelf: true}}, onA.received())
	assert.Equal(t, []any{domain.RoomFrame{Message: "hi", IsSelf: false}}, onB.received())
}

func TestDispatch_RoomMessageCarriesHistoryID(t *testing.T) {
	reg := registry.New()
	a := &mockConn{id: 2}
	reg.Connect(a, registry.Room(7))

	br := New(newFakeBroker(0), reg, fastOpts())
	br.Dispatch(event.RoomMessage{RoomID: 7, SenderID: 1, Text: "hi", MessageID: 41})

	assert.Equal(t, []any{domain.RoomFrame{Message: "hi", MessageID: 41}}, a.received())
}
