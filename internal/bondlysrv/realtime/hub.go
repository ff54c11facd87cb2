// Package realtime fans session status changes out to connected watchers. Events
// travel through Postgres LISTEN/NOTIFY when a listener is running, so every
// server instance sees them, and through the in-process bus otherwise.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/models"
	"github.com/bondly/bondly/internal/common/eventbus"
	"github.com/bondly/bondly/internal/common/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHeartbeat  = 15 * time.Second
	subscriberBuffer  = 8
	publishTimeout    = 100 * time.Millisecond
	minReconnectDelay = time.Second
	maxReconnectDelay = time.Minute
	listenerPingEvery = 90 * time.Second
)

// Event is a session status change.
type Event struct {
	SessionID string               `json:"sessionId"`
	Status    models.SessionStatus `json:"status"`
	At        time.Time            `json:"at"`
}

// Hub fans session status changes out to event stream subscribers. With a
// Postgres listener attached, changes made by other instances are delivered too.
type Hub struct {
	bus       *eventbus.EventBus
	channel   string
	heartbeat time.Duration

	mu       sync.Mutex
	listener *pq.Listener
	stop     chan struct{}
	done     chan struct{}
}

func NewHub(channel string, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Hub{
		bus:       eventbus.New(),
		channel:   channel,
		heartbeat: heartbeat,
	}
}

func topic(sessionID string) string {
	return "session." + sessionID
}

// Subscribe returns the events of one session. The cancel function must be called.
func (h *Hub) Subscribe(sessionID uuid.UUID) (<-chan Event, func()) {
	raw, unsubscribe := h.bus.Subscribe(topic(sessionID.String()), subscriberBuffer)
	out := make(chan Event, subscriberBuffer)
	quit := make(chan struct{})
	go func() {
		defer close(out)
		for e := range raw {
			ev, ok := e.Data.(Event)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-quit:
				return
			}
		}
	}()
	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(quit)
			unsubscribe()
		})
	}
}

// NotifySession publishes a status change. With a running listener the event goes
// out as a notification on the request's connection; failing that it is delivered
// locally.
func (h *Hub) NotifySession(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) {
	ev := Event{
		SessionID: sessionID.String(),
		Status:    status,
		At:        time.Now().UTC(),
	}
	if h.listening() && db.HasConn(ctx) {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = db.DB(ctx).Notify(ctx, h.channel, string(payload))
		}
		if err == nil {
			return
		}
		log.Ctx(ctx).Warn().Err(err).Msg("failed to send session notification, delivering locally")
	}
	h.publish(ev)
}

func (h *Hub) publish(ev Event) int {
	return h.bus.Publish(topic(ev.SessionID), ev, publishTimeout)
}

func (h *Hub) listening() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listener != nil
}

// Listen starts relaying notifications on the hub's channel from Postgres to
// local subscribers.
func (h *Hub) Listen(ctx context.Context, dsn string) error {
	logger := log.Ctx(ctx).With().Str("channel", h.channel).Logger()
	listener := pq.NewListener(dsn, minReconnectDelay, maxReconnectDelay, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logger.Warn().Err(err).Msg("notification listener disconnected")
		case pq.ListenerEventReconnected:
			logger.Info().Msg("notification listener reconnected")
		}
	})
	if err := listener.Listen(h.channel); err != nil {
		listener.Close()
		return err
	}

	h.mu.Lock()
	h.listener = listener
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	stop, done := h.stop, h.done
	h.mu.Unlock()

	go func() {
		defer close(done)
		ping := time.NewTicker(listenerPingEvery)
		defer ping.Stop()
		for {
			select {
			case <-stop:
				return
			case n := <-listener.Notify:
				if n == nil {
					// reconnected; notifications may have been missed and watchers poll
					continue
				}
				var ev Event
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					logger.Warn().Err(err).Msg("ignoring malformed notification")
					continue
				}
				h.publish(ev)
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					logger.Warn().Err(err).Msg("notification listener ping failed")
				}
			}
		}
	}()
	logger.Info().Msg("listening for session notifications")
	return nil
}

// Close stops the listener and ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	listener, stop, done := h.listener, h.stop, h.done
	h.listener = nil
	h.mu.Unlock()

	if listener != nil {
		close(stop)
		<-done
		listener.Close()
	}
	h.bus.Shutdown()
}
