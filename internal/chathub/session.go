package chathub

import (
	"alumnet/backend/internal/models"
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageLog is the message store as seen by a chat session.
type MessageLog interface {
	Append(ctx context.Context, connectionID, senderID, content string) (*models.Message, error)
	HistoryFor(ctx context.Context, viewer, connectionID string) ([]models.Message, error)
}

// Session is one user's open view of a connection's chat. It subscribes to
// the relay before reading history so nothing committed in between is lost,
// and merges both sources by message id.
type Session struct {
	ConnectionID string
	Viewer       string
	Hub          *ManagerService
	Store        MessageLog
	Log          *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	timeline *Timeline
	sub      *Subscription
	initial  []models.Message
	err      error

	updates chan models.Message
}

// OpenSession subscribes to connectionID and loads its history for viewer.
// The session lives until Close is called or ctx is done.
func OpenSession(ctx context.Context, hub *ManagerService, store MessageLog, log *zap.Logger, connectionID, viewer string) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ConnectionID: connectionID,
		Viewer:       viewer,
		Hub:          hub,
		Store:        store,
		Log:          log.With(zap.String("connection", connectionID), zap.String("viewer", viewer)),
		ctx:          ctx,
		cancel:       cancel,
		timeline:     NewTimeline(),
		updates:      make(chan models.Message, hub.Buffer),
	}

	sub, history, err := s.load()
	if err != nil {
		cancel()
		return nil, err
	}
	s.sub = sub
	s.timeline.Merge(history)
	s.initial = s.timeline.Messages()

	go s.run()
	return s, nil
}

func (s *Session) load() (*Subscription, []models.Message, error) {
	sub, err := s.Hub.Subscribe(s.ctx, s.ConnectionID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.Store.HistoryFor(s.ctx, s.Viewer, s.ConnectionID)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	return sub, history, nil
}

func (s *Session) run() {
	defer close(s.updates)

	for {
		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()

		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-sub.C:
			if ok && ev.Kind == EventInsert {
				s.mu.Lock()
				added := s.timeline.Insert(ev.Message)
				s.mu.Unlock()
				if added && !s.emit(ev.Message) {
					return
				}
				continue
			}
			if !s.resync(sub) {
				return
			}
		}
	}
}

// resync replaces a dropped or reset subscription and fills the gap from
// history. Only messages the timeline has not seen are emitted.
func (s *Session) resync(old *Subscription) bool {
	s.Log.Info("chat session resync")
	old.Close()

	sub, history, err := s.load()
	if err != nil {
		if s.ctx.Err() == nil {
			s.Log.Error("chat session resync failed", zap.Error(err))
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
		return false
	}

	s.mu.Lock()
	s.sub = sub
	added := s.timeline.Merge(history)
	s.mu.Unlock()

	for _, m := range added {
		if !s.emit(m) {
			return false
		}
	}
	return true
}

func (s *Session) emit(m models.Message) bool {
	select {
	case s.updates <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Send appends content as the viewer. The message is held as a provisional
// entry until the store answers, then confirmed or rolled back. An empty
// clientRef gets a generated one.
func (s *Session) Send(ctx context.Context, clientRef, content string) (*models.Message, error) {
	if clientRef == "" {
		clientRef = uuid.NewString()
	}

	s.mu.Lock()
	s.timeline.AddProvisional(clientRef, models.Message{
		ConnectionID: s.ConnectionID,
		SenderID:     s.Viewer,
		Content:      content,
	})
	s.mu.Unlock()

	msg, err := s.Store.Append(ctx, s.ConnectionID, s.Viewer, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.timeline.Rollback(clientRef)
		return nil, err
	}
	s.timeline.Confirm(clientRef, *msg)
	return msg, nil
}

// History returns the messages loaded when the session opened.
func (s *Session) History() []models.Message {
	return s.initial
}

// Updates delivers messages that joined the timeline after it opened, once
// each. Messages confirmed through Send are not repeated here unless the
// relay delivered them first. The channel is closed when the session ends.
func (s *Session) Updates() <-chan models.Message {
	return s.updates
}

func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Messages()
}

func (s *Session) Pending() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Pending()
}

// Err reports why the session ended on its own, if it did.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Context() context.Context {
	return s.ctx
}

// Close tears down the subscription. Safe to call more than once.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}
