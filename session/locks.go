package session

import (
	"context"
	"errors"
	"time"

	"sketchd/core"
)

// Acquire attempts to take the advisory lock on an object. It succeeds iff
// the object is unlocked or already held by this user. Any failure, including
// a network failure, counts as acquisition failure: the session never
// assumes it holds a lock without store confirmation.
func (s *Session) Acquire(ctx context.Context, id string) bool {
	s.mu.Lock()
	obj, ok := s.objects[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if obj.LockedBy == s.userID {
		s.mu.Unlock()
		return true
	}
	if obj.LockedBy != "" {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	patch := core.Patch{
		LockedBy: core.String(s.userID),
		LockedAt: core.Int(time.Now().UnixMilli()),
	}
	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		if !errors.Is(err, core.ErrLockConflict) && !errors.Is(err, core.ErrNotFound) {
			s.log.WithError(err).WithField("object_id", id).Warn("Lock acquire failed")
		}
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirm(updated)
	if cur, ok := s.objects[id]; ok {
		cur.LockedBy = updated.LockedBy
		cur.LockedAt = updated.LockedAt
		cur.Version = updated.Version
	} else {
		s.objects[id] = updated.Clone()
	}
	return true
}

// AcquireMany attempts each lock independently and returns the ids won.
// Partial success is expected and surfaced to the caller, not hidden.
func (s *Session) AcquireMany(ctx context.Context, ids []string) []string {
	won := make([]string, 0, len(ids))
	for _, id := range ids {
		if s.Acquire(ctx, id) {
			won = append(won, id)
		}
	}
	return won
}

// Release clears the lock on an object this session holds. Releasing an
// object that is unlocked, missing, or held by someone else is a no-op.
// Releasing removes the object from the selection set as well, preserving
// the invariant that every selected object is locked by self. A coalesced
// payload still waiting in the throttle slot is flushed first so the user's
// final edit is not dropped with the lock.
func (s *Session) Release(ctx context.Context, id string) {
	s.mu.Lock()
	if !s.holdsLock(id) {
		s.mu.Unlock()
		return
	}
	var payload core.Patch
	if pw, ok := s.pending[id]; ok {
		if pw.timer != nil {
			pw.timer.Stop()
		}
		payload = pw.patch
		delete(s.pending, id)
	}
	delete(s.selection, id)
	s.mu.Unlock()

	if !patchEmpty(payload) {
		s.flush(id, payload)
	}

	patch := core.Patch{LockedBy: core.String("")}
	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.log.WithError(err).WithField("object_id", id).Warn("Lock release failed")
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirm(updated)
	if cur, ok := s.objects[id]; ok {
		cur.LockedBy = ""
		cur.LockedAt = 0
		cur.Version = updated.Version
	}
}

// ReleaseMany releases each lock held among ids. Idempotent.
func (s *Session) ReleaseMany(ctx context.Context, ids []string) {
	for _, id := range ids {
		s.Release(ctx, id)
	}
}
