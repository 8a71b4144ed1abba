package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
)

// Status is the lifecycle state a session reports to its presenter.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

const profileFetchTimeout = 5 * time.Second

// provisionalEntry is a send-in-progress: locally generated temporary
// id, local wall-clock timestamp, not yet acknowledged by the store.
type provisionalEntry struct {
	tempID string
	seq    uint64
	msg    chat.Message
}

// Config wires a Session to its collaborators.
type Config struct {
	ConversationID string
	SelfID         string
	Store          Store
	Bus            Bus
	Profiles       ProfileSource
	Logger         *zap.Logger
}

// Session reconciles one conversation's local ordered view with the
// message store: initial load, optimistic send, realtime merge and
// deduplication. All mutations of the view funnel through its methods,
// which serialize on an internal mutex; snapshots are copies, so
// callers never observe a partially updated sequence.
type Session struct {
	conversationID string
	selfID         string
	store          Store
	bus            Bus
	profiles       *profileCache
	log            *zap.Logger

	mu          sync.Mutex
	status      Status
	lastErr     error
	sub         Subscription
	opened      bool
	closed      bool
	durable     []chat.Message      // ordered by (CreatedAt, id)
	byID        map[string]struct{} // durable ids present in durable
	seqByID     map[string]uint64   // submission order of own reconciled sends
	provisional []provisionalEntry  // submission order
	nextSeq     uint64

	updates chan struct{}
}

func New(cfg Config) (*Session, error) {
	if cfg.ConversationID == "" || cfg.SelfID == "" {
		return nil, errors.New("session: conversation and user ids are required")
	}
	if cfg.Store == nil || cfg.Bus == nil {
		return nil, errors.New("session: store and bus are required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		conversationID: cfg.ConversationID,
		selfID:         cfg.SelfID,
		store:          cfg.Store,
		bus:            cfg.Bus,
		profiles:       newProfileCache(cfg.Profiles),
		log:            log,
		byID:           make(map[string]struct{}),
		seqByID:        make(map[string]uint64),
		updates:        make(chan struct{}, 1),
	}, nil
}

// Open subscribes to the conversation's insert stream, then loads the
// durable history and merges the two with dedup by id. Subscribing
// first closes the race: a row appended during the load arrives on the
// subscription and the merge discards the copy it already has. On
// failure the session is fully torn down, never half subscribed.
func (s *Session) Open(ctx context.Context) ([]chat.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil, ErrAlreadyOpen
	}
	s.opened = true
	s.status = StatusLoading
	s.mu.Unlock()

	sub := s.bus.Subscribe(s.conversationID, s.handleInsert, s.SubscriptionLost)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return nil, ErrClosed
	}
	s.sub = sub
	s.mu.Unlock()

	history, err := s.store.History(ctx, s.conversationID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if err != nil {
		s.sub = nil
		s.status = StatusError
		s.lastErr = err
		s.opened = false
		s.mu.Unlock()
		sub.Close()
		return nil, &loadError{err}
	}
	for _, m := range history {
		s.insertDurableLocked(m)
	}
	s.status = StatusReady
	s.notifyLocked()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	return snapshot, nil
}

// Send appends text optimistically: a provisional entry becomes
// visible immediately, then the durable append runs. On success the
// provisional entry is replaced by the canonical record at its
// durable-timestamp position; on failure it is removed and the
// returned SendError preserves the original text for retry.
func (s *Session) Send(ctx context.Context, text string) (*chat.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, chat.ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextSeq++
	entry := provisionalEntry{
		tempID: "temp-" + uuid.NewString(),
		seq:    s.nextSeq,
		msg: chat.Message{
			ConversationID: s.conversationID,
			SenderID:       s.selfID,
			CreatedAt:      time.Now().UTC(),
			Body:           trimmed,
			Sender:         s.profiles.cached(s.selfID),
		},
	}
	entry.msg.ID = entry.tempID
	s.provisional = append(s.provisional, entry)
	s.notifyLocked()
	s.mu.Unlock()

	canonical, err := s.store.Append(ctx, s.conversationID, s.selfID, trimmed)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		// The view is gone; its state must not be written to. A durable
		// append that did land will surface on the next open's history.
		return nil, ErrClosed
	}

	if err != nil {
		s.removeProvisionalLocked(entry.tempID)
		s.notifyLocked()
		return nil, &SendError{Text: text, Err: err}
	}

	if s.removeProvisionalLocked(entry.tempID) {
		s.seqByID[canonical.ID] = entry.seq
	}
	// Insert is a no-op when the realtime push won the race.
	s.insertDurableLocked(canonical)
	s.notifyLocked()

	return &canonical, nil
}

// handleInsert is invoked by the subscription for every row the store
// publishes on this conversation, including this client's own appends.
func (s *Session) handleInsert(msg chat.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.byID[msg.ID]; ok {
		// Already reconciled; the push is a duplicate no-op.
		s.mu.Unlock()
		return
	}

	// A push for one of our own in-flight sends may beat the append
	// acknowledgment. Reconcile against the oldest matching provisional
	// entry so submission order keys the pairing, and record the
	// mapping so the late acknowledgment becomes a no-op.
	if msg.SenderID == s.selfID {
		for i, entry := range s.provisional {
			if entry.msg.Body == msg.Body {
				s.provisional = append(s.provisional[:i], s.provisional[i+1:]...)
				s.seqByID[msg.ID] = entry.seq
				break
			}
		}
	}

	s.insertDurableLocked(msg)

	needsProfile := msg.Sender == nil
	if needsProfile {
		if p := s.profiles.cached(msg.SenderID); p != nil {
			s.attachProfileLocked(msg.ID, p)
			needsProfile = false
		}
	}
	s.notifyLocked()
	s.mu.Unlock()

	if needsProfile {
		go s.hydrateProfile(msg.ID, msg.SenderID)
	}
}

// hydrateProfile lazily resolves a sender profile off the publisher's
// goroutine and attaches it if the session still holds the message.
func (s *Session) hydrateProfile(messageID string, senderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), profileFetchTimeout)
	defer cancel()

	p, err := s.profiles.resolve(ctx, senderID)
	if err != nil {
		s.log.Debug("sender profile fetch failed",
			zap.String("senderId", senderID), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.attachProfileLocked(messageID, p)
	s.notifyLocked()
}

// Close releases the subscription and clears the profile cache. It is
// idempotent and safe to call while an Open or Send is in flight; the
// in-flight result is discarded without touching the torn-down view.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	s.profiles.clear()
}

// SubscriptionLost marks the realtime channel as dropped. The session
// stays usable for reads; recovery is a new session and Open.
func (s *Session) SubscriptionLost(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.status = StatusError
	if cause != nil {
		s.lastErr = cause
	} else {
		s.lastErr = ErrSubscriptionLost
	}
	s.notifyLocked()
}

// Snapshot returns the visible ordered sequence: durable messages by
// (creation time, id), then provisional sends in submission order.
func (s *Session) Snapshot() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Status reports the lifecycle state and, for StatusError, its cause.
func (s *Session) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.lastErr
}

// Updates signals (coalesced) whenever the visible sequence or status
// changes. Receivers read the new state via Snapshot and Status.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) snapshotLocked() []chat.Message {
	out := make([]chat.Message, 0, len(s.durable)+len(s.provisional))
	out = append(out, s.durable...)
	for _, entry := range s.provisional {
		out = append(out, entry.msg)
	}
	return out
}

// insertDurableLocked places msg at its chronological position,
// deduplicating by durable id.
func (s *Session) insertDurableLocked(msg chat.Message) {
	if _, ok := s.byID[msg.ID]; ok {
		return
	}
	i := sort.Search(len(s.durable), func(i int) bool {
		return s.lessLocked(msg, s.durable[i])
	})
	s.durable = append(s.durable, chat.Message{})
	copy(s.durable[i+1:], s.durable[i:])
	s.durable[i] = msg
	s.byID[msg.ID] = struct{}{}
}

// lessLocked orders by creation time; equal timestamps between two of
// this client's own sends fall back to submission order, otherwise id.
func (s *Session) lessLocked(a, b chat.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	seqA, okA := s.seqByID[a.ID]
	seqB, okB := s.seqByID[b.ID]
	if okA && okB {
		return seqA < seqB
	}
	return a.ID < b.ID
}

func (s *Session) removeProvisionalLocked(tempID string) bool {
	for i, entry := range s.provisional {
		if entry.tempID == tempID {
			s.provisional = append(s.provisional[:i], s.provisional[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) attachProfileLocked(messageID string, p *chat.Profile) {
	for i := range s.durable {
		if s.durable[i].ID == messageID {
			s.durable[i].Sender = p
			return
		}
	}
}

func (s *Session) notifyLocked() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// loadError wraps a history-load failure under ErrLoadFailed.
type loadError struct {
	err error
}

func (e *loadError) Error() string { return ErrLoadFailed.Error() + ": " + e.err.Error() }
func (e *loadError) Is(target error) bool {
	return target == ErrLoadFailed
}
func (e *loadError) Unwrap() error { return e.err }
