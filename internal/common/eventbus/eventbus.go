// Package eventbus is an in-memory publish/subscribe bus. Topics are dot separated;
// a subscription pattern may use "*" for any single segment, or be "*" alone.
package eventbus

import (
	"strings"
	"sync"
	"time"
)

type Event struct {
	Topic string
	Data  any
}

type subscriber struct {
	pattern string
	ch      chan Event

	mu     sync.Mutex
	closed bool
}

// send delivers within timeout; a zero timeout never blocks.
func (s *subscriber) send(event Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if timeout <= 0 {
		select {
		case s.ch <- event:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.ch <- event:
		return true
	case <-t.C:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// EventBus is an in-process topic based publish/subscribe bus.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	next        uint64
}

func New() *EventBus {
	return &EventBus{
		subscribers: make(map[uint64]*subscriber),
	}
}

// Subscribe registers a buffered subscription. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (bus *EventBus) Subscribe(pattern string, bufferSize int) (<-chan Event, func()) {
	sub := &subscriber{
		pattern: pattern,
		ch:      make(chan Event, bufferSize),
	}

	bus.mu.Lock()
	bus.next++
	id := bus.next
	bus.subscribers[id] = sub
	bus.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			bus.mu.Lock()
			delete(bus.subscribers, id)
			bus.mu.Unlock()
			sub.close()
		})
	}
	return sub.ch, unsubscribe
}

// Publish delivers to every matching subscriber and returns the number of deliveries.
// Slow subscribers miss the event once timeout elapses.
func (bus *EventBus) Publish(topic string, data any, timeout time.Duration) int {
	event := Event{Topic: topic, Data: data}

	bus.mu.RLock()
	targets := make([]*subscriber, 0, len(bus.subscribers))
	for _, sub := range bus.subscribers {
		if matchTopic(sub.pattern, topic) {
			targets = append(targets, sub)
		}
	}
	bus.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.send(event, timeout) {
			delivered++
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions.
func (bus *EventBus) Subscribers() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.subscribers)
}

// Shutdown closes every subscription.
func (bus *EventBus) Shutdown() {
	bus.mu.Lock()
	subs := bus.subscribers
	bus.subscribers = make(map[uint64]*subscriber)
	bus.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func matchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == "*" || pattern == topic {
		return true
	}
	patternParts := strings.Split(pattern, ".")
	topicParts := strings.Split(topic, ".")
	if len(patternParts) != len(topicParts) {
		return false
	}
	for i := range patternParts {
		if patternParts[i] != "*" && patternParts[i] != topicParts[i] {
			return false
		}
	}
	return true
}
