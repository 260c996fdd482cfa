package session

import (
	"sync"

	"sketchd/core"
)

// eventQueue decouples the store's synchronous change-feed callback from the
// session's reconciler. Push never blocks and never drops; the reconciler
// drains in arrival order, which preserves the store's per-object write
// ordering.
type eventQueue struct {
	mu     sync.Mutex
	events []core.ChangeEvent
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev core.ChangeEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []core.ChangeEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// reconcile consumes the change feed and merges remote state into the local
// cache until the session closes.
func (s *Session) reconcile() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.events.signal:
			for _, ev := range s.events.drain() {
				s.applyRemote(ev)
			}
		}
	}
}

// applyRemote merges one change-feed event.
//
// Objects not locked by this session take the remote state unconditionally
// (last-writer-wins; no field-level merge). For objects locked by self the
// event is normally the echo of our own write: it is dropped when its version
// is older than the working copy, and when a newer coalesced payload is still
// waiting in the throttle slot the echo updates only the confirmed snapshot,
// leaving the fresher optimistic state on screen.
func (s *Session) applyRemote(ev core.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case core.EventRemoved:
		_, selected := s.selection[ev.ID]
		delete(s.objects, ev.ID)
		delete(s.confirmed, ev.ID)
		delete(s.selection, ev.ID)
		s.cancelPending([]string{ev.ID})
		if selected {
			s.log.WithField("object_id", ev.ID).Info("Selected object deleted remotely")
			s.notify(Notice{Kind: NoticeObjectGone, ObjectID: ev.ID})
		}
		return

	case core.EventAdded, core.EventModified:
		if ev.Object == nil {
			return
		}
		s.confirm(ev.Object)

		local, ok := s.objects[ev.ID]
		if ok && local.LockedBy == s.userID {
			if ev.Object.Version < local.Version {
				// Out-of-order echo of a stale write. Expected, not an error.
				return
			}
			if s.hasPending(ev.ID) {
				return
			}
		}
		s.objects[ev.ID] = ev.Object.Clone()

		// A lock revoked out from under us (an expired-lock sweep) must also
		// clear the selection, which only ever holds self-locked objects.
		if _, selected := s.selection[ev.ID]; selected && ev.Object.LockedBy != s.userID {
			delete(s.selection, ev.ID)
			s.log.WithField("object_id", ev.ID).Info("Lock revoked remotely")
			s.notify(Notice{Kind: NoticeLockLost, ObjectID: ev.ID})
		}
	}
}
