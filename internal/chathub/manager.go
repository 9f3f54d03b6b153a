package chathub

import (
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/models"
	"alumnet/backend/internal/pubsub"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrHubStopped  = errors.New("relay hub is not running")
	ErrRelayClosed = errors.New("relay stream closed")
)

type EventKind int

const (
	// EventInsert carries a newly committed message.
	EventInsert EventKind = iota
	// EventResync means the relay reconnected and events may have been missed.
	EventResync
)

type Event struct {
	Kind    EventKind
	Message models.Message
}

// Subscription streams the events of one connection. C is closed when the
// subscription is closed, when the hub stops, or when the subscriber falls
// behind and gets dropped.
type Subscription struct {
	ConnectionID string
	C            <-chan Event

	send   chan Event
	hub    *ManagerService
	closed chan struct{}
	once   sync.Once
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

type countQuery struct {
	connectionID string
	reply        chan int
}

// ManagerService fans relayed messages out to the subscribers of each
// connection. All subscriber state is owned by the Run goroutine.
type ManagerService struct {
	Broker pubsub.Broker
	Log    *zap.Logger
	Buffer int

	register   chan *Subscription
	unregister chan *Subscription
	counts     chan countQuery

	subs map[string]map[*Subscription]struct{}
	done chan struct{}
}

func NewManagerService(broker pubsub.Broker, buffer int, log *zap.Logger) *ManagerService {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = config.DefaultSubscriberBuffer
	}
	return &ManagerService{
		Broker:     broker,
		Log:        log,
		Buffer:     buffer,
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		counts:     make(chan countQuery),
		subs:       make(map[string]map[*Subscription]struct{}),
		done:       make(chan struct{}),
	}
}

// Run listens on the broker and dispatches until ctx is cancelled. It must be
// called once. Subscribe blocks until Run is accepting registrations, which
// only happens after the broker subscription is live.
func (m *ManagerService) Run(ctx context.Context) error {
	defer m.shutdown()

	deliveries, err := m.Broker.Subscribe(ctx, config.MessagesChannel)
	if err != nil {
		return err
	}
	m.Log.Info("relay hub started", zap.String("channel", config.MessagesChannel))

	for {
		select {
		case <-ctx.Done():
			return nil

		case sub := <-m.register:
			set, ok := m.subs[sub.ConnectionID]
			if !ok {
				set = make(map[*Subscription]struct{})
				m.subs[sub.ConnectionID] = set
			}
			set[sub] = struct{}{}

		case sub := <-m.unregister:
			m.remove(sub)

		case q := <-m.counts:
			q.reply <- len(m.subs[q.connectionID])

		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrRelayClosed
			}
			m.dispatch(d)
		}
	}
}

// Subscribe registers a subscriber for connectionID. The subscription is
// closed automatically when ctx is done. Events committed after Subscribe
// returns are guaranteed to be offered to it.
func (m *ManagerService) Subscribe(ctx context.Context, connectionID string) (*Subscription, error) {
	send := make(chan Event, m.Buffer)
	sub := &Subscription{
		ConnectionID: connectionID,
		C:            send,
		send:         send,
		hub:          m,
		closed:       make(chan struct{}),
	}

	select {
	case m.register <- sub:
	case <-m.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closed:
		}
	}()
	return sub, nil
}

// Subscribers returns the number of live subscribers of connectionID.
func (m *ManagerService) Subscribers(connectionID string) int {
	q := countQuery{connectionID: connectionID, reply: make(chan int, 1)}
	select {
	case m.counts <- q:
		return <-q.reply
	case <-m.done:
		return 0
	}
}

func (m *ManagerService) dispatch(d pubsub.Delivery) {
	if d.Resync {
		m.Log.Info("relay resync", zap.Int("connections", len(m.subs)))
		for _, set := range m.subs {
			for sub := range set {
				m.offer(sub, Event{Kind: EventResync})
			}
		}
		return
	}

	var msg models.Message
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		m.Log.Warn("undecodable relay payload", zap.Error(err))
		return
	}
	for sub := range m.subs[msg.ConnectionID] {
		m.offer(sub, Event{Kind: EventInsert, Message: msg})
	}
}

// offer never blocks the hub: a subscriber with a full buffer is dropped.
func (m *ManagerService) offer(sub *Subscription, ev Event) {
	select {
	case sub.send <- ev:
	default:
		m.Log.Warn("dropping slow subscriber", zap.String("connection", sub.ConnectionID))
		m.remove(sub)
	}
}

func (m *ManagerService) remove(sub *Subscription) {
	set, ok := m.subs[sub.ConnectionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.send)
	if len(set) == 0 {
		delete(m.subs, sub.ConnectionID)
	}
}

func (m *ManagerService) shutdown() {
	close(m.done)
	for _, set := range m.subs {
		for sub := range set {
			close(sub.send)
		}
	}
	m.subs = make(map[string]map[*Subscription]struct{})
	m.Log.Info("relay hub stopped")
}
