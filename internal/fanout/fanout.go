// Package fanout routes per-session events to transport subscribers through
// one explicit routing table with typed publish and subscribe methods.
package fanout

import (
	"sync"

	"github.com/agent-console/backend/internal/model"
)

// Subscriber receives the event stream of the single session it is
// subscribed to. A non-nil error from any Send method marks the subscriber
// dead and removes it from the routing table; the error never propagates to
// other subscribers.
type Subscriber interface {
	// SendLogs replays buffered history, sent once immediately after
	// subscribing.
	SendLogs(entries []model.LogEntry) error

	// SendData delivers one raw output chunk.
	SendData(data []byte) error

	// SendMessage delivers one reconstructed conversation message.
	SendMessage(msg model.Message) error

	// SendExit reports process termination, terminal for this subscription.
	SendExit(exitCode int) error
}

// Bus is the routing table between sessions and their subscribers. A
// subscriber is attached to at most one session at a time; subscribing to
// another session implicitly detaches it from the previous one. Broadcast is
// independent per subscriber, never load-balanced.
type Bus struct {
	mu        sync.RWMutex
	bySession map[string]map[Subscriber]struct{}
	sessionOf map[Subscriber]string
}

// NewBus creates an empty routing table.
func NewBus() *Bus {
	return &Bus{
		bySession: make(map[string]map[Subscriber]struct{}),
		sessionOf: make(map[Subscriber]string),
	}
}

// Subscribe attaches sub to the session and synchronously replays history to
// it, so a late joiner sees recent context before live events arrive.
func (b *Bus) Subscribe(sub Subscriber, sessionID string, history []model.LogEntry) {
	b.mu.Lock()
	b.detachLocked(sub)
	subs, ok := b.bySession[sessionID]
	if !ok {
		subs = make(map[Subscriber]struct{})
		b.bySession[sessionID] = subs
	}
	subs[sub] = struct{}{}
	b.sessionOf[sub] = sessionID
	b.mu.Unlock()

	if err := sub.SendLogs(history); err != nil {
		b.Unsubscribe(sub)
	}
}

// Unsubscribe detaches sub from whatever session it is attached to. Safe to
// call on every exit path, including for subscribers already removed.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	b.detachLocked(sub)
	b.mu.Unlock()
}

func (b *Bus) detachLocked(sub Subscriber) {
	sessionID, ok := b.sessionOf[sub]
	if !ok {
		return
	}
	delete(b.sessionOf, sub)
	if subs, ok := b.bySession[sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.bySession, sessionID)
		}
	}
}

// Drop detaches every subscriber of a session. Called when the session is
// deleted so the table holds no dead references.
func (b *Bus) Drop(sessionID string) {
	b.mu.Lock()
	for sub := range b.bySession[sessionID] {
		delete(b.sessionOf, sub)
	}
	delete(b.bySession, sessionID)
	b.mu.Unlock()
}

// SubscriberCount returns the number of subscribers attached to a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bySession[sessionID])
}

// SessionOf returns the session a subscriber is attached to.
func (b *Bus) SessionOf(sub Subscriber) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.sessionOf[sub]
	return id, ok
}

// PublishData broadcasts a raw output chunk to the session's subscribers.
func (b *Bus) PublishData(sessionID string, data []byte) {
	b.publish(sessionID, func(sub Subscriber) error {
		return sub.SendData(data)
	})
}

// PublishMessage broadcasts a reconstructed message to the session's
// subscribers.
func (b *Bus) PublishMessage(sessionID string, msg model.Message) {
	b.publish(sessionID, func(sub Subscriber) error {
		return sub.SendMessage(msg)
	})
}

// PublishExit broadcasts process termination to the session's subscribers.
func (b *Bus) PublishExit(sessionID string, exitCode int) {
	b.publish(sessionID, func(sub Subscriber) error {
		return sub.SendExit(exitCode)
	})
}

// publish delivers one event to every subscriber of a session, removing any
// subscriber whose send fails so a dead transport cannot leak or be written
// to again.
func (b *Bus) publish(sessionID string, send func(Subscriber) error) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.bySession[sessionID]))
	for sub := range b.bySession[sessionID] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := send(sub); err != nil {
			b.Unsubscribe(sub)
		}
	}
}
