// Package session implements the client side of the collaborative canvas:
// per-object advisory locking, optimistic local mutation with throttled
// persistence, atomic batch writes, and reconciliation of the store's change
// feed into a local cache.
//
// A Session is single-owner: one user editing one board. The backing store is
// the source of truth; the session's cache is always reconcilable from it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sketchd/core"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotHolder reports a mutation attempt on an object whose lock the
// session does not hold. It is raised client-side, before any store I/O.
var ErrNotHolder = errors.New("session does not hold the object lock")

type NoticeKind string

const (
	// NoticeRollback: a persistence failure reverted all local state to the
	// last confirmed snapshot.
	NoticeRollback NoticeKind = "rollback"
	// NoticeObjectGone: an object disappeared under the user (deleted
	// remotely, or mutation targeted a deleted object).
	NoticeObjectGone NoticeKind = "object-gone"
	// NoticePartialSelection: a multi-select locked only a subset.
	NoticePartialSelection NoticeKind = "partial-selection"
	// NoticeLockLost: a lock this session held was revoked remotely (an
	// expired-lock sweep); the object left the selection.
	NoticeLockLost NoticeKind = "lock-lost"
)

// Notice is a lightweight user-facing event. Delivery is best-effort: the
// channel is buffered and full buffers drop.
type Notice struct {
	Kind     NoticeKind
	ObjectID string
	Message  string
}

type Config struct {
	UserID  string
	BoardID string
	Store   core.ObjectStore
}

type Session struct {
	id      string
	userID  string
	boardID string
	store   core.ObjectStore

	mu        sync.Mutex
	objects   map[string]*core.CanvasObject // working state, optimistic
	confirmed map[string]*core.CanvasObject // last store-confirmed snapshot
	selection map[string]struct{}
	pending   map[string]*pendingWrite
	drag      *dragState

	// inFlight counts dispatched single-object flush goroutines. Batch
	// writes wait it out so a flush already past cancellation cannot land
	// after the batch.
	inFlight sync.WaitGroup

	events      *eventQueue
	unsubscribe func()
	quit        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once

	notices chan Notice
	log     *logrus.Entry
}

// New loads the board into the local cache, subscribes to the store's change
// feed, and starts the reconciler.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("session: user id is required")
	}
	if cfg.BoardID == "" {
		return nil, errors.New("session: board id is required")
	}

	s := &Session{
		id:        uuid.NewString(),
		userID:    cfg.UserID,
		boardID:   cfg.BoardID,
		store:     cfg.Store,
		objects:   make(map[string]*core.CanvasObject),
		confirmed: make(map[string]*core.CanvasObject),
		selection: make(map[string]struct{}),
		pending:   make(map[string]*pendingWrite),
		events:    newEventQueue(),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		notices:   make(chan Notice, 64),
	}
	s.log = logrus.WithFields(logrus.Fields{
		"session_id": s.id,
		"user_id":    s.userID,
		"board_id":   s.boardID,
	})

	objects, err := cfg.Store.List(ctx, cfg.BoardID)
	if err != nil {
		return nil, fmt.Errorf("session: initial load: %w", err)
	}
	for _, obj := range objects {
		s.objects[obj.ID] = obj.Clone()
		s.confirmed[obj.ID] = obj.Clone()
	}

	s.unsubscribe = cfg.Store.Subscribe(cfg.BoardID, s.events.push)
	go s.reconcile()

	s.log.WithField("objects", len(objects)).Info("Session started")
	return s, nil
}

// Close unsubscribes from the change feed and stops the reconciler and any
// armed throttle timers. Pending payloads are discarded, not flushed.
// Idempotent; extra calls are no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.quit)
		<-s.done

		s.mu.Lock()
		for id, pw := range s.pending {
			if pw.timer != nil {
				pw.timer.Stop()
			}
			delete(s.pending, id)
		}
		s.mu.Unlock()

		s.log.Info("Session closed")
	})
}

// UserID returns the user this session edits as.
func (s *Session) UserID() string { return s.userID }

// Notices returns the user-facing event channel.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Object returns a copy of the object from the local cache.
func (s *Session) Object(id string) (*core.CanvasObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// Objects returns copies of every object in the local cache.
func (s *Session) Objects() []*core.CanvasObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.CanvasObject, 0, len(s.objects))
	for _, obj := range s.objects {
		out = append(out, obj.Clone())
	}
	return out
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
	}
}

// holdsLock reports whether the cached object exists and is locked by this
// session's user. Callers hold s.mu.
func (s *Session) holdsLock(id string) bool {
	obj, ok := s.objects[id]
	return ok && obj.LockedBy == s.userID
}

// rollback reverts all working state to the last confirmed snapshot and
// drops every pending throttled write. Deliberately coarse: partial
// local/remote divergence is worse than a visible revert. Callers hold s.mu.
func (s *Session) rollback(reason string) {
	for id, pw := range s.pending {
		if pw.timer != nil {
			pw.timer.Stop()
		}
		delete(s.pending, id)
	}

	s.objects = make(map[string]*core.CanvasObject, len(s.confirmed))
	for id, obj := range s.confirmed {
		s.objects[id] = obj.Clone()
	}
	for id := range s.selection {
		if _, ok := s.objects[id]; !ok {
			delete(s.selection, id)
		}
	}

	s.log.WithField("reason", reason).Warn("Rolled back to confirmed snapshot")
	s.notify(Notice{Kind: NoticeRollback, Message: reason})
}

// confirm records obj as store-confirmed state. Callers hold s.mu.
func (s *Session) confirm(obj *core.CanvasObject) {
	s.confirmed[obj.ID] = obj.Clone()
}
