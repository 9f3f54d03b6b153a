// Package network runs the connection lifecycle (request, accept, reject) and
// keeps a per-viewer Connection Index in step with it.
package network

import (
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/models"
	"alumnet/backend/internal/pubsub"
	"alumnet/backend/internal/retry"
	"alumnet/backend/internal/storage"
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service handles the business logic for connections.
type Service struct {
	Store  storage.Storage
	Broker pubsub.Broker
	Retry  retry.Config
	Log    *zap.Logger
	// IndexTTL bounds how long a cached index is trusted without a rebuild.
	// Broker events keep it current in between; the TTL repairs any missed one.
	IndexTTL time.Duration

	mu      sync.Mutex
	indexes map[string]*cachedIndex
	// Records applied while a rebuild for the viewer is in flight; replayed
	// onto the rebuilt index so it cannot miss them.
	journal    map[string][]models.Connection
	rebuilding map[string]int
}

type cachedIndex struct {
	ix      *Index
	builtAt time.Time
}

func (c *cachedIndex) expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(c.builtAt) >= ttl
}

// NewService creates a new connection service. broker may be nil, in which case
// index updates stay local to this instance.
func NewService(store storage.Storage, broker pubsub.Broker, retryCfg retry.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Store:      store,
		Broker:     broker,
		Retry:      retryCfg,
		Log:        log,
		IndexTTL:   config.DefaultIndexTTL,
		indexes:    make(map[string]*cachedIndex),
		journal:    make(map[string][]models.Connection),
		rebuilding: make(map[string]int),
	}
}

// Request sends a connection request. It is not retried on failure.
func (s *Service) Request(ctx context.Context, senderID, receiverID string) (*models.Connection, error) {
	conn, err := s.Store.CreateConnection(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	s.Log.Info("connection requested",
		zap.String("connection", conn.ID),
		zap.String("sender", senderID),
		zap.String("receiver", receiverID))

	s.apply(*conn)
	s.publish(ctx, *conn)
	return conn, nil
}

// Respond records the receiver's decision on a pending request. It is not
// retried on failure.
func (s *Service) Respond(ctx context.Context, connectionID, responderID string, decision models.Decision) (*models.Connection, error) {
	conn, err := s.Store.RespondConnection(ctx, connectionID, responderID, decision)
	if err != nil {
		return nil, err
	}
	s.Log.Info("connection answered",
		zap.String("connection", conn.ID),
		zap.String("status", string(conn.Status)))

	s.apply(*conn)
	s.publish(ctx, *conn)
	return conn, nil
}

// ListIncomingPending returns the requests waiting on userID, newest first.
func (s *Service) ListIncomingPending(ctx context.Context, userID string) ([]models.Connection, error) {
	var conns []models.Connection
	err := retry.Do(ctx, s.Retry, s.Log, "list_incoming_pending", func(ctx context.Context) error {
		var err error
		conns, err = s.Store.ListIncomingPending(ctx, userID)
		return err
	})
	return conns, err
}

// ListAccepted returns the accepted connections of userID.
func (s *Service) ListAccepted(ctx context.Context, userID string) ([]models.Connection, error) {
	var conns []models.Connection
	err := retry.Do(ctx, s.Retry, s.Log, "list_accepted", func(ctx context.Context) error {
		var err error
		conns, err = s.Store.ListAccepted(ctx, userID)
		return err
	})
	return conns, err
}

// Index returns a copy of the viewer's index, building it on first use and
// rebuilding it once it is older than IndexTTL.
func (s *Service) Index(ctx context.Context, viewer string) (*Index, error) {
	s.mu.Lock()
	var ix *Index
	if c, ok := s.indexes[viewer]; ok && !c.expired(s.IndexTTL, time.Now()) {
		ix = c.ix.Clone()
	}
	s.mu.Unlock()
	if ix != nil {
		return ix, nil
	}
	return s.Refresh(ctx, viewer)
}

// Refresh rebuilds the viewer's index from the store.
func (s *Service) Refresh(ctx context.Context, viewer string) (*Index, error) {
	s.mu.Lock()
	s.rebuilding[viewer]++
	s.mu.Unlock()

	var conns []models.Connection
	err := retry.Do(ctx, s.Retry, s.Log, "rebuild_index", func(ctx context.Context) error {
		var err error
		conns, err = s.Store.ListForUser(ctx, viewer)
		return err
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	journal := s.journal[viewer]
	if s.rebuilding[viewer]--; s.rebuilding[viewer] == 0 {
		delete(s.rebuilding, viewer)
		delete(s.journal, viewer)
	}
	if err != nil {
		return nil, err
	}

	ix := Build(viewer, conns)
	for _, c := range journal {
		ix.Apply(c)
	}
	s.indexes[viewer] = &cachedIndex{ix: ix, builtAt: time.Now()}
	return ix.Clone(), nil
}

// StatusBetween returns how viewer relates to other.
func (s *Service) StatusBetween(ctx context.Context, viewer, other string) (RelationStatus, error) {
	ix, err := s.Index(ctx, viewer)
	if err != nil {
		return RelationNone, err
	}
	return ix.StatusOf(other), nil
}

// Forget drops the cached index of viewer.
func (s *Service) Forget(viewer string) {
	s.mu.Lock()
	delete(s.indexes, viewer)
	s.mu.Unlock()
}

// Evict drops every cached index older than IndexTTL and returns how many
// were dropped.
func (s *Service) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for viewer, c := range s.indexes {
		if c.expired(s.IndexTTL, now) {
			delete(s.indexes, viewer)
			n++
		}
	}
	return n
}

// Cached returns the number of cached indexes.
func (s *Service) Cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indexes)
}

// Listen applies connection changes published by other instances until ctx
// is done, and evicts expired indexes so idle viewers do not stay cached. A
// resync drops every cached index, since changes may have been missed.
func (s *Service) Listen(ctx context.Context) error {
	var deliveries <-chan pubsub.Delivery
	if s.Broker != nil {
		var err error
		deliveries, err = s.Broker.Subscribe(ctx, config.ConnectionsChannel)
		if err != nil {
			return err
		}
		s.Log.Info("listening for connection changes")
	}

	var sweep <-chan time.Time
	if s.IndexTTL > 0 {
		ticker := time.NewTicker(s.IndexTTL)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case now := <-sweep:
			if n := s.Evict(now); n > 0 {
				s.Log.Debug("evicted connection indexes", zap.Int("count", n))
			}

		case d, ok := <-deliveries:
			if !ok {
				return ctx.Err()
			}
			if d.Resync {
				s.Log.Warn("connection feed resynced, dropping cached indexes")
				s.mu.Lock()
				s.indexes = make(map[string]*cachedIndex)
				s.mu.Unlock()
				continue
			}

			var conn models.Connection
			if err := json.Unmarshal(d.Payload, &conn); err != nil {
				s.Log.Warn("bad connection event", zap.Error(err))
				continue
			}
			s.apply(conn)
		}
	}
}

func (s *Service) apply(conn models.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, viewer := range []string{conn.SenderID, conn.ReceiverID} {
		if c, ok := s.indexes[viewer]; ok {
			c.ix.Apply(conn)
		}
		if s.rebuilding[viewer] > 0 {
			s.journal[viewer] = append(s.journal[viewer], conn)
		}
	}
}

// publish is best effort: the write already committed, and other instances
// converge on their next rebuild. It runs detached from ctx so a caller that
// goes away after the commit does not suppress the event.
func (s *Service) publish(ctx context.Context, conn models.Connection) {
	if s.Broker == nil {
		return
	}
	payload, err := json.Marshal(conn)
	if err != nil {
		s.Log.Warn("encode connection event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.PublishTimeout)
	defer cancel()
	if err := s.Broker.Publish(ctx, config.ConnectionsChannel, payload); err != nil {
		s.Log.Warn("publish connection event", zap.String("connection", conn.ID), zap.Error(err))
	}
}
