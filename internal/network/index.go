package network

import (
	"alumnet/backend/internal/models"
	"time"
)

// RelationStatus is how a viewer relates to another user.
type RelationStatus string

const (
	RelationNone            RelationStatus = "none"
	RelationPendingOutgoing RelationStatus = "pending_outgoing"
	RelationPendingIncoming RelationStatus = "pending_incoming"
	RelationConnected       RelationStatus = "connected"
)

// IsPending collapses both pending directions, as the connect button does.
func (s RelationStatus) IsPending() bool {
	return s == RelationPendingOutgoing || s == RelationPendingIncoming
}

type entry struct {
	ConnectionID string
	Status       RelationStatus
	CreatedAt    time.Time
}

func entryOf(c models.Connection, status RelationStatus) entry {
	return entry{ConnectionID: c.ID, Status: status, CreatedAt: c.CreatedAt}
}

// precedes orders two connections between the same pair: by creation time,
// then by id.
func (e entry) precedes(o entry) bool {
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.Before(o.CreatedAt)
	}
	return e.ConnectionID < o.ConnectionID
}

// Index maps every user the viewer has an active connection with to the
// relationship status, and counts the requests waiting on the viewer.
// An Index is not safe for concurrent use; Service hands out copies.
type Index struct {
	Viewer string

	entries map[string]entry
	// Latest rejected connection per counterpart, kept only while no newer
	// connection with that user is tracked.
	rejected map[string]entry
	incoming int
}

// NewIndex returns an empty index for viewer.
func NewIndex(viewer string) *Index {
	return &Index{
		Viewer:   viewer,
		entries:  make(map[string]entry),
		rejected: make(map[string]entry),
	}
}

// Build computes the index from every connection touching viewer.
func Build(viewer string, conns []models.Connection) *Index {
	ix := NewIndex(viewer)
	for _, c := range conns {
		ix.Apply(c)
	}
	return ix
}

// Apply folds one authoritative connection record into the index and reports
// whether anything changed. It is idempotent and tolerates records arriving
// out of order: records of a connection older than the one tracked for the
// pair are ignored, an accepted entry never goes back to pending, and a
// rejected connection stays rejected.
func (ix *Index) Apply(c models.Connection) bool {
	other, ok := c.OtherParty(ix.Viewer)
	if !ok {
		return false
	}
	rec := entryOf(c, RelationNone)
	cur, has := ix.entries[other]
	if has && cur.ConnectionID != c.ID && rec.precedes(cur) {
		return false
	}
	if tomb, ok := ix.rejected[other]; ok && (tomb.ConnectionID == c.ID || rec.precedes(tomb)) {
		return false
	}

	switch c.Status {
	case models.ConnectionStatusPending:
		if has && cur.ConnectionID == c.ID {
			return false
		}
		status := RelationPendingIncoming
		if c.SenderID == ix.Viewer {
			status = RelationPendingOutgoing
		}
		ix.set(other, entryOf(c, status))
	case models.ConnectionStatusAccepted:
		if has && cur.ConnectionID == c.ID && cur.Status == RelationConnected {
			return false
		}
		ix.set(other, entryOf(c, RelationConnected))
	case models.ConnectionStatusRejected:
		ix.remove(other)
		ix.rejected[other] = rec
		return has
	default:
		return false
	}
	return true
}

func (ix *Index) set(other string, e entry) {
	ix.remove(other)
	delete(ix.rejected, other)
	ix.entries[other] = e
	if e.Status == RelationPendingIncoming {
		ix.incoming++
	}
}

func (ix *Index) remove(other string) {
	if cur, ok := ix.entries[other]; ok {
		if cur.Status == RelationPendingIncoming {
			ix.incoming--
		}
		delete(ix.entries, other)
	}
}

// Rejected returns how many rejected connections the index still remembers.
func (ix *Index) Rejected() int {
	return len(ix.rejected)
}

// StatusOf returns the viewer's relationship with other.
func (ix *Index) StatusOf(other string) RelationStatus {
	if e, ok := ix.entries[other]; ok {
		return e.Status
	}
	return RelationNone
}

// ConnectionWith returns the id of the active connection with other, if any.
func (ix *Index) ConnectionWith(other string) (string, bool) {
	e, ok := ix.entries[other]
	return e.ConnectionID, ok
}

// CanRequest reports whether the viewer may send other a request.
func (ix *Index) CanRequest(other string) bool {
	return other != ix.Viewer && ix.StatusOf(other) == RelationNone
}

// IncomingPending is the number of requests waiting on the viewer's answer.
func (ix *Index) IncomingPending() int {
	return ix.incoming
}

// Snapshot returns other-user -> status for every non-none relationship.
func (ix *Index) Snapshot() map[string]RelationStatus {
	out := make(map[string]RelationStatus, len(ix.entries))
	for other, e := range ix.entries {
		out[other] = e.Status
	}
	return out
}

// Clone returns an independent copy.
func (ix *Index) Clone() *Index {
	cp := NewIndex(ix.Viewer)
	for k, v := range ix.entries {
		cp.entries[k] = v
	}
	for k, v := range ix.rejected {
		cp.rejected[k] = v
	}
	cp.incoming = ix.incoming
	return cp
}
