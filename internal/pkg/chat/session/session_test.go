package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
)

const testConversation = "conv-1"

type fakeSub struct {
	closed atomic.Int32
}

func (s *fakeSub) Close() { s.closed.Add(1) }

type fakeBus struct {
	mu   sync.Mutex
	fn   func(chat.Message)
	lost func(error)
	sub  *fakeSub
}

func (b *fakeBus) Subscribe(conversationID string, fn func(msg chat.Message), lost func(err error)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fn = fn
	b.lost = lost
	b.sub = &fakeSub{}
	return b.sub
}

func (b *fakeBus) push(msg chat.Message) {
	b.mu.Lock()
	fn := b.fn
	b.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (b *fakeBus) reportLost(err error) {
	b.mu.Lock()
	lost := b.lost
	b.mu.Unlock()
	if lost != nil {
		lost(err)
	}
}

func (b *fakeBus) subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fn != nil
}

type fakeStore struct {
	mu          sync.Mutex
	history     []chat.Message
	historyErr  error
	historyHook func()
	appendFn    func(ctx context.Context, conversationID, senderID, body string) (chat.Message, error)
}

func (s *fakeStore) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.Lock()
	hook := s.historyHook
	err := s.historyErr
	out := make([]chat.Message, len(s.history))
	copy(out, s.history)
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fakeStore) Append(ctx context.Context, conversationID, senderID, body string) (chat.Message, error) {
	s.mu.Lock()
	fn := s.appendFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, conversationID, senderID, body)
	}
	return chat.Message{}, errors.New("append not configured")
}

type fakeProfiles struct {
	mu    sync.Mutex
	byID  map[string]*chat.Profile
	calls int
}

func (p *fakeProfiles) GetProfile(ctx context.Context, userID string) (*chat.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if prof, ok := p.byID[userID]; ok {
		return prof, nil
	}
	return nil, chat.ErrProfileNotFound
}

func durableMsg(id, sender, body string, at time.Time) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: testConversation,
		SenderID:       sender,
		Body:           body,
		CreatedAt:      at,
	}
}

func newTestSession(t *testing.T, store *fakeStore, bus *fakeBus) *Session {
	t.Helper()
	s, err := New(Config{
		ConversationID: testConversation,
		SelfID:         "alice",
		Store:          store,
		Bus:            bus,
	})
	require.NoError(t, err)
	return s
}

func bodies(msgs []chat.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

func TestNewRequiresIdentityAndCollaborators(t *testing.T) {
	_, err := New(Config{SelfID: "alice", Store: &fakeStore{}, Bus: &fakeBus{}})
	require.Error(t, err)

	_, err = New(Config{ConversationID: testConversation, SelfID: "alice"})
	require.Error(t, err)
}

func TestOpenLoadsHistoryAndBecomesReady(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{history: []chat.Message{
		durableMsg("m1", "bob", "hello", base),
		durableMsg("m2", "alice", "hi", base.Add(time.Second)),
	}}
	bus := &fakeBus{}
	s := newTestSession(t, store, bus)

	msgs, err := s.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "hi"}, bodies(msgs))

	status, cause := s.Status()
	require.Equal(t, StatusReady, status)
	require.NoError(t, cause)

	_, err = s.Open(context.Background())
	require.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestOpenSubscribesBeforeLoading(t *testing.T) {
	bus := &fakeBus{}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{history: []chat.Message{durableMsg("m1", "bob", "first", base)}}
	s := newTestSession(t, store, bus)

	// A row appended while the history read is in flight arrives on the
	// subscription; the same row is also part of the returned history.
	var subscribedDuringLoad bool
	store.mu.Lock()
	store.historyHook = func() {
		subscribedDuringLoad = bus.subscribed()
		bus.push(durableMsg("m1", "bob", "first", base))
	}
	store.mu.Unlock()

	msgs, err := s.Open(context.Background())
	require.NoError(t, err)
	require.True(t, subscribedDuringLoad)

	// The row arriving on both paths must appear once.
	require.Equal(t, []string{"first"}, bodies(msgs))
	require.Equal(t, []string{"first"}, bodies(s.Snapshot()))
}

func TestOpenLoadFailureTearsDownAndAllowsRetry(t *testing.T) {
	bus := &fakeBus{}
	store := &fakeStore{historyErr: errors.New("db down")}
	s := newTestSession(t, store, bus)

	_, err := s.Open(context.Background())
	require.ErrorIs(t, err, ErrLoadFailed)
	require.ErrorContains(t, err, "db down")

	status, cause := s.Status()
	require.Equal(t, StatusError, status)
	require.Error(t, cause)
	require.Equal(t, int32(1), bus.sub.closed.Load())

	// A failed open leaves the session reusable.
	store.mu.Lock()
	store.historyErr = nil
	store.mu.Unlock()

	_, err = s.Open(context.Background())
	require.NoError(t, err)
	status, _ = s.Status()
	require.Equal(t, StatusReady, status)
}

func TestSendRejectsBlankBodyWithoutSideEffects(t *testing.T) {
	bus := &fakeBus{}
	store := &fakeStore{}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "   \n\t ")
	require.ErrorIs(t, err, chat.ErrEmptyMessage)
	require.Empty(t, s.Snapshot())
}

func TestSendShowsProvisionalThenCanonical(t *testing.T) {
	bus := &fakeBus{}
	appendStarted := make(chan struct{})
	release := make(chan struct{})
	canonical := durableMsg("m9", "alice", "hey", time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC))

	store := &fakeStore{appendFn: func(ctx context.Context, conversationID, senderID, body string) (chat.Message, error) {
		close(appendStarted)
		<-release
		return canonical, nil
	}}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	var sent *chat.Message
	var sendErr error
	go func() {
		sent, sendErr = s.Send(context.Background(), "hey")
		close(done)
	}()

	<-appendStarted
	pending := s.Snapshot()
	require.Len(t, pending, 1)
	require.Equal(t, "hey", pending[0].Body)
	require.Contains(t, pending[0].ID, "temp-")
	require.Equal(t, "alice", pending[0].SenderID)

	close(release)
	<-done
	require.NoError(t, sendErr)
	require.Equal(t, "m9", sent.ID)

	final := s.Snapshot()
	require.Len(t, final, 1)
	require.Equal(t, "m9", final[0].ID)
}

func TestSendFailurePreservesOriginalText(t *testing.T) {
	bus := &fakeBus{}
	cause := errors.New("network timeout")
	store := &fakeStore{appendFn: func(ctx context.Context, conversationID, senderID, body string) (chat.Message, error) {
		return chat.Message{}, cause
	}}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "  important note  ")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, "  important note  ", sendErr.Text)
	require.ErrorIs(t, err, cause)

	// The failed provisional entry must not linger.
	require.Empty(t, s.Snapshot())
}

func TestRealtimePushMergesAndDeduplicates(t *testing.T) {
	bus := &fakeBus{}
	store := &fakeStore{}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.push(durableMsg("m2", "bob", "second", base.Add(time.Second)))
	bus.push(durableMsg("m1", "bob", "first", base))
	bus.push(durableMsg("m2", "bob", "second", base.Add(time.Second)))

	require.Equal(t, []string{"first", "second"}, bodies(s.Snapshot()))
}

func TestPushBeforeAppendAckDeduplicates(t *testing.T) {
	bus := &fakeBus{}
	canonical := durableMsg("m5", "alice", "race", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	appendStarted := make(chan struct{})
	release := make(chan struct{})
	store := &fakeStore{appendFn: func(ctx context.Context, conversationID, senderID, body string) (chat.Message, error) {
		close(appendStarted)
		<-release
		return canonical, nil
	}}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = s.Send(context.Background(), "race")
		close(done)
	}()

	<-appendStarted
	// The realtime copy lands before the append acknowledgment.
	bus.push(canonical)
	require.Equal(t, []string{"race"}, bodies(s.Snapshot()))

	close(release)
	<-done

	final := s.Snapshot()
	require.Len(t, final, 1)
	require.Equal(t, "m5", final[0].ID)
}

func TestEqualTimestampOwnSendsKeepSubmissionOrder(t *testing.T) {
	bus := &fakeBus{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Store-assigned ids sort against submission order on purpose.
	results := []chat.Message{
		durableMsg("zz", "alice", "one", at),
		durableMsg("aa", "alice", "two", at),
	}
	var call atomic.Int32
	store := &fakeStore{appendFn: func(ctx context.Context, conversationID, senderID, body string) (chat.Message, error) {
		return results[call.Add(1)-1], nil
	}}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "one")
	require.NoError(t, err)
	_, err = s.Send(context.Background(), "two")
	require.NoError(t, err)

	require.Equal(t, []string{"one", "two"}, bodies(s.Snapshot()))
}

func TestCloseIsIdempotentAndDiscardsInFlightSend(t *testing.T) {
	bus := &fakeBus{}
	appendStarted := make(chan struct{})
	release := make(chan struct{})
	store := &fakeStore{appendFn: func(ctx context.Context, conversationID, senderID, body string) (chat.Message, error) {
		close(appendStarted)
		<-release
		return durableMsg("m1", "alice", "late", time.Now().UTC()), nil
	}}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "late")
		done <- err
	}()

	<-appendStarted
	s.Close()
	s.Close()
	require.Equal(t, int32(1), bus.sub.closed.Load())

	close(release)
	require.ErrorIs(t, <-done, ErrClosed)

	// Post-close operations are refused and pushes are ignored.
	_, err = s.Send(context.Background(), "more")
	require.ErrorIs(t, err, ErrClosed)
	bus.push(durableMsg("m2", "bob", "ghost", time.Now().UTC()))
	require.Empty(t, s.Snapshot())
}

func TestBusReportedOutageMarksSessionError(t *testing.T) {
	bus := &fakeBus{}
	store := &fakeStore{}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	status, _ := s.Status()
	require.Equal(t, StatusReady, status)

	// Drain the open signal so the outage is what raises the next one.
	select {
	case <-s.Updates():
	default:
	}

	cause := errors.New("listen connection dropped")
	bus.reportLost(cause)

	status, got := s.Status()
	require.Equal(t, StatusError, status)
	require.ErrorIs(t, got, cause)

	select {
	case <-s.Updates():
	case <-time.After(time.Second):
		t.Fatal("expected an update signal after the feed dropped")
	}
}

func TestSubscriptionLostReportsErrorStatus(t *testing.T) {
	bus := &fakeBus{}
	store := &fakeStore{}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	s.SubscriptionLost(nil)
	status, cause := s.Status()
	require.Equal(t, StatusError, status)
	require.ErrorIs(t, cause, ErrSubscriptionLost)

	// The loaded view stays readable.
	require.NotNil(t, s.Snapshot())
}

func TestUpdatesSignalsOnChanges(t *testing.T) {
	bus := &fakeBus{}
	store := &fakeStore{}
	s := newTestSession(t, store, bus)
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	// Drain the open signal, then push and expect a fresh one.
	select {
	case <-s.Updates():
	default:
	}

	bus.push(durableMsg("m1", "bob", "ping", time.Now().UTC()))
	select {
	case <-s.Updates():
	case <-time.After(time.Second):
		t.Fatal("expected an update signal after a realtime push")
	}
}

// multiBus fans pushes out to every live subscriber, like the real
// broker, so tests can run several sessions against one stream.
type multiBus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(chat.Message)
}

func newMultiBus() *multiBus {
	return &multiBus{subs: make(map[int]func(chat.Message))}
}

type multiBusSub struct {
	bus *multiBus
	id  int
}

func (s *multiBusSub) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}

func (b *multiBus) Subscribe(conversationID string, fn func(msg chat.Message), lost func(err error)) Subscription {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = fn
	b.mu.Unlock()
	return &multiBusSub{bus: b, id: id}
}

func (b *multiBus) broadcast(msg chat.Message) {
	b.mu.Lock()
	fns := make([]func(chat.Message), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// memStore assigns ids and timestamps on append and pushes every
// appended row to the bus before acknowledging, which is the worst
// ordering for the reconciliation race.
type memStore struct {
	mu   sync.Mutex
	bus  *multiBus
	msgs []chat.Message
	seq  int
	now  time.Time
}

func newMemStore(bus *multiBus) *memStore {
	return &memStore{bus: bus, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *memStore) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.msgs))
	copy(out, s.msgs)
	return out, nil
}

func (s *memStore) Append(ctx context.Context, conversationID, senderID, body string) (chat.Message, error) {
	s.mu.Lock()
	s.seq++
	s.now = s.now.Add(time.Second)
	msg := chat.Message{
		ID:             fmt.Sprintf("m%d", s.seq),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      s.now,
	}
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()

	s.bus.broadcast(msg)
	return msg, nil
}

func TestCloseReopenContinuesDurableHistory(t *testing.T) {
	bus := newMultiBus()
	store := newMemStore(bus)

	first, err := New(Config{ConversationID: testConversation, SelfID: "alice", Store: store, Bus: bus})
	require.NoError(t, err)
	_, err = first.Open(context.Background())
	require.NoError(t, err)
	_, err = first.Send(context.Background(), "one")
	require.NoError(t, err)
	first.Close()

	// A row lands while nothing is subscribed.
	_, err = store.Append(context.Background(), testConversation, "bob", "two")
	require.NoError(t, err)

	second, err := New(Config{ConversationID: testConversation, SelfID: "alice", Store: store, Bus: bus})
	require.NoError(t, err)
	msgs, err := second.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, bodies(msgs))
}

func TestTwoClientsEachSeeMessageExactlyOnce(t *testing.T) {
	bus := newMultiBus()
	store := newMemStore(bus)

	a, err := New(Config{ConversationID: testConversation, SelfID: "alice", Store: store, Bus: bus})
	require.NoError(t, err)
	b, err := New(Config{ConversationID: testConversation, SelfID: "bob", Store: store, Bus: bus})
	require.NoError(t, err)
	for _, s := range []*Session{a, b} {
		_, err := s.Open(context.Background())
		require.NoError(t, err)
	}

	sent, err := a.Send(context.Background(), "hi")
	require.NoError(t, err)

	// The sender reconciles the provisional entry against the push that
	// arrived before the acknowledgment; the peer merges it plainly.
	require.Equal(t, []string{"hi"}, bodies(a.Snapshot()))
	require.Equal(t, []string{"hi"}, bodies(b.Snapshot()))
	require.Equal(t, sent.ID, a.Snapshot()[0].ID)
	require.Equal(t, sent.ID, b.Snapshot()[0].ID)
}

func TestPushHydratesSenderProfile(t *testing.T) {
	bus := &fakeBus{}
	store := &fakeStore{}
	profiles := &fakeProfiles{byID: map[string]*chat.Profile{
		"bob": {ID: "bob", Username: "bob_w"},
	}}
	s, err := New(Config{
		ConversationID: testConversation,
		SelfID:         "alice",
		Store:          store,
		Bus:            bus,
		Profiles:       profiles,
	})
	require.NoError(t, err)
	_, err = s.Open(context.Background())
	require.NoError(t, err)

	bus.push(durableMsg("m1", "bob", "hello", time.Now().UTC()))

	require.Eventually(t, func() bool {
		msgs := s.Snapshot()
		return len(msgs) == 1 && msgs[0].Sender != nil && msgs[0].Sender.Username == "bob_w"
	}, time.Second, 10*time.Millisecond)

	// A second push from the same sender reuses the cached profile.
	bus.push(durableMsg("m2", "bob", "again", time.Now().UTC()))
	require.Eventually(t, func() bool {
		msgs := s.Snapshot()
		return len(msgs) == 2 && msgs[1].Sender != nil
	}, time.Second, 10*time.Millisecond)

	profiles.mu.Lock()
	defer profiles.mu.Unlock()
	require.Equal(t, 1, profiles.calls)
}
