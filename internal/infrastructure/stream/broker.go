package stream

import (
	"sync"

	"github.com/google/uuid"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
)

// InsertFunc receives a newly appended message for a subscribed conversation.
type InsertFunc func(msg chat.Message)

// LostFunc is told that the realtime feed behind the subscription
// dropped; rows notified during the outage may have been missed.
type LostFunc func(err error)

// Subscription is a live, single-owner handle onto one conversation's
// insert stream. Close is idempotent.
type Subscription struct {
	id             string
	conversationID string
	fn             InsertFunc
	lost           LostFunc

	broker *Broker
	once   sync.Once
}

// Close releases the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.broker.remove(s.conversationID, s.id)
	})
}

// Broker fans newly appended messages out to per-conversation
// subscribers. It is the in-process leg of the store's realtime bus;
// rows appended on other nodes reach it through the Listener.
//
// Broker is safe for concurrent use by multiple goroutines.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // conversationID -> subID -> sub
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[string]*Subscription)}
}

// Subscribe registers fn for all subsequent inserts in the conversation
// and lost, which may be nil, for feed outages. Both are invoked on the
// publisher's goroutine and must not block.
func (b *Broker) Subscribe(conversationID string, fn InsertFunc, lost LostFunc) *Subscription {
	sub := &Subscription{
		id:             uuid.NewString(),
		conversationID: conversationID,
		fn:             fn,
		lost:           lost,
		broker:         b,
	}

	b.mu.Lock()
	room := b.subs[conversationID]
	if room == nil {
		room = make(map[string]*Subscription)
		b.subs[conversationID] = room
	}
	room[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// Publish delivers msg to every subscriber of its conversation,
// including the one belonging to the originating client.
func (b *Broker) Publish(msg chat.Message) int {
	b.mu.RLock()
	room := b.subs[msg.ConversationID]
	targets := make([]*Subscription, 0, len(room))
	for _, sub := range room {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.fn(msg)
	}
	return len(targets)
}

// SignalLost tells every live subscriber that the realtime feed
// dropped. Notifications raised during the outage are gone, so
// subscribers must re-open rather than resume.
func (b *Broker) SignalLost(cause error) {
	b.mu.RLock()
	var targets []*Subscription
	for _, room := range b.subs {
		for _, sub := range room {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.lost != nil {
			sub.lost(cause)
		}
	}
}

func (b *Broker) remove(conversationID string, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.subs[conversationID]
	if room == nil {
		return
	}
	delete(room, subID)
	if len(room) == 0 {
		delete(b.subs, conversationID)
	}
}
