// Package broker provides the in-memory publish/subscribe registry used by
// the chat endpoint. It maps a destination to the set of currently subscribed
// delivery targets. State is local to the process.
package broker

import (
	"strings"
	"sync"
)

// UserPrefix prefix of per-user destinations
const UserPrefix = "/user/"

// Subscriber receives payloads published to a destination.
// Deliver must not block; it reports false when the payload was dropped.
type Subscriber interface {
	Deliver(destination string, payload []byte) bool
}

// Broker implements the destination registry
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]struct{}
}

// New creates an empty broker
func New() *Broker {
	return &Broker{
		topics: make(map[string]map[Subscriber]struct{}),
	}
}

// UserDestination resolves a user-relative queue (e.g. /queue/private) into
// the destination owned by user.
func UserDestination(user, queue string) string {
	return UserPrefix + user + "/" + strings.TrimPrefix(queue, "/")
}

// Subscribe adds sub to destination. Repeated calls are idempotent.
func (b *Broker) Subscribe(destination string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[destination]
	if !ok {
		subs = make(map[Subscriber]struct{})
		b.topics[destination] = subs
	}
	subs[sub] = struct{}{}
}

// Unsubscribe removes sub from destination
func (b *Broker) Unsubscribe(destination string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.remove(destination, sub)
}

// RemoveSubscriber removes sub from every destination
func (b *Broker) RemoveSubscriber(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for destination := range b.topics {
		b.remove(destination, sub)
	}
}

// Publish delivers payload to every subscriber of destination and returns
// the number of successful deliveries. No subscribers means the payload is dropped.
func (b *Broker) Publish(destination string, payload []byte) int {
	subs := b.Subscribers(destination)

	delivered := 0
	for _, sub := range subs {
		if sub.Deliver(destination, payload) {
			delivered++
		}
	}
	return delivered
}

// PublishToUser delivers payload to the queue owned by user
func (b *Broker) PublishToUser(user, queue string, payload []byte) int {
	return b.Publish(UserDestination(user, queue), payload)
}

// Subscribers returns a snapshot of the subscribers of destination
func (b *Broker) Subscribers(destination string) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.topics[destination]
	out := make([]Subscriber, 0, len(subs))
	for sub := range subs {
		out = append(out, sub)
	}
	return out
}

// remove must be called with mu held
func (b *Broker) remove(destination string, sub Subscriber) {
	subs, ok := b.topics[destination]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, destination)
	}
}
