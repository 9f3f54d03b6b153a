package chathub

import (
	"alumnet/backend/internal/models"
	"slices"
	"sort"
)

// Entry is a locally sent message that the server has not confirmed yet.
type Entry struct {
	ClientRef string
	Message   models.Message
}

// Timeline is the ordered, duplicate-free message list of one open chat.
// Confirmed messages are keyed by id; provisional entries sit after them
// until Confirm or Rollback resolves them. Not safe for concurrent use.
type Timeline struct {
	confirmed []models.Message
	seen      map[uint]struct{}
	pending   []Entry
}

func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[uint]struct{})}
}

// Insert adds m in order unless a message with the same id is present.
func (t *Timeline) Insert(m models.Message) bool {
	if _, ok := t.seen[m.ID]; ok {
		return false
	}
	t.seen[m.ID] = struct{}{}
	i := sort.Search(len(t.confirmed), func(i int) bool { return m.Before(t.confirmed[i]) })
	t.confirmed = slices.Insert(t.confirmed, i, m)
	return true
}

// Merge inserts every unseen message of history and returns those, in order.
func (t *Timeline) Merge(history []models.Message) []models.Message {
	var added []models.Message
	for _, m := range history {
		if t.Insert(m) {
			added = append(added, m)
		}
	}
	return added
}

func (t *Timeline) AddProvisional(clientRef string, m models.Message) {
	t.pending = append(t.pending, Entry{ClientRef: clientRef, Message: m})
}

// Confirm replaces the provisional entry clientRef with the stored message.
// It reports whether m was new to the timeline; the relay may have delivered
// it first.
func (t *Timeline) Confirm(clientRef string, m models.Message) bool {
	t.drop(clientRef)
	return t.Insert(m)
}

// Rollback discards the provisional entry clientRef.
func (t *Timeline) Rollback(clientRef string) bool {
	return t.drop(clientRef)
}

func (t *Timeline) drop(clientRef string) bool {
	i := slices.IndexFunc(t.pending, func(e Entry) bool { return e.ClientRef == clientRef })
	if i < 0 {
		return false
	}
	t.pending = slices.Delete(t.pending, i, i+1)
	return true
}

// Messages returns a copy of the confirmed messages, oldest first.
func (t *Timeline) Messages() []models.Message {
	return slices.Clone(t.confirmed)
}

func (t *Timeline) Pending() []Entry {
	return slices.Clone(t.pending)
}

func (t *Timeline) Len() int {
	return len(t.confirmed)
}
