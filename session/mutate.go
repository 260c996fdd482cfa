package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sketchd/core"

	"github.com/sirupsen/logrus"
)

// UpdateLocal applies a partial update to the in-memory object only. No
// store I/O. This is the base primitive for instantaneous visual feedback.
// Mutation is gated: the session must hold the object's lock.
func (s *Session) UpdateLocal(id string, patch core.Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocal(id, patch)
}

func (s *Session) updateLocal(id string, patch core.Patch) bool {
	if !s.holdsLock(id) {
		return false
	}
	s.objects[id].Apply(patch)
	return true
}

// UpdateOptimistic applies the update locally and schedules a throttled
// store write. Writes within the window coalesce: only the latest state is
// eventually sent.
func (s *Session) UpdateOptimistic(id string, patch core.Patch, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.updateLocal(id, patch) {
		return false
	}
	s.schedule(id, patch, window)
	return true
}

// CreateObject persists a new object pre-locked by the creator and selects
// it. Creation is the one mutation exempt from lock gating: the creator
// implicitly holds the lock on the object it just created.
func (s *Session) CreateObject(ctx context.Context, obj *core.CanvasObject) (string, error) {
	draft := obj.Clone()
	draft.BoardID = s.boardID
	draft.CreatedBy = s.userID
	draft.ModifiedBy = s.userID
	draft.LockedBy = s.userID
	draft.LockedAt = time.Now().UnixMilli()

	id, err := s.store.Create(ctx, draft)
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}

	created, err := s.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = created.Clone()
	s.confirm(created)
	s.selection[id] = struct{}{}

	s.log.WithFields(logrus.Fields{
		"object_id": id,
		"type":      created.Type,
	}).Debug("Object created and selected")
	return id, nil
}

// DeleteObject removes an object this session holds the lock on. Pending
// throttled writes for it are discarded first.
func (s *Session) DeleteObject(ctx context.Context, id string) error {
	s.mu.Lock()
	if !s.holdsLock(id) {
		s.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, ErrNotHolder)
	}
	s.cancelPending([]string{id})
	s.mu.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Deleted remotely in the meantime; the feed will clean up.
			return nil
		}
		s.mu.Lock()
		s.rollback("delete failed: " + err.Error())
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
	delete(s.confirmed, id)
	delete(s.selection, id)
	return nil
}

// Duplicate creates a copy of an object offset slightly from the original,
// releases the original, and selects the copy. The release completes before
// the copy is selected so the user never appears to hold both.
func (s *Session) Duplicate(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	obj, ok := s.objects[id]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("duplicate %s: %w", id, core.ErrNotFound)
	}
	if obj.LockedBy != s.userID {
		s.mu.Unlock()
		return "", fmt.Errorf("duplicate %s: %w", id, ErrNotHolder)
	}
	draft := obj.Clone()
	s.mu.Unlock()

	draft.ID = ""
	draft.Version = 0
	draft.X += 20
	draft.Y += 20

	s.Release(ctx, id)
	return s.CreateObject(ctx, draft)
}
