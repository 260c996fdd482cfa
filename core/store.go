package core

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every store backend.
var (
	// ErrNotFound reports a mutation targeting an id no longer present.
	ErrNotFound = errors.New("object not found")
	// ErrLockConflict reports a lock claim on an object already held by a
	// different user.
	ErrLockConflict = errors.New("object locked by another user")
)

type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventRemoved  EventType = "removed"
)

type (
	// ChangeEvent is one entry of a store's change feed. Object is nil for
	// removed events. The feed is delivered to all subscribers including the
	// writer (self-echo), in per-object write order.
	ChangeEvent struct {
		Type    EventType     `json:"type"`
		ID      string        `json:"id"`
		BoardID string        `json:"boardId"`
		Object  *CanvasObject `json:"object,omitempty"`
	}

	// ObjectStore is the persistent backing store for canvas objects. It is
	// the single source of truth; client-side caches must always be
	// reconcilable from it.
	//
	// Update applies a partial-field merge and increments Version on every
	// accepted write. Writes to a single object are serialized: a patch that
	// claims a lock on an object already locked by a different user is
	// rejected with ErrLockConflict. The lock is otherwise advisory: the
	// store does not verify lock ownership on ordinary field writes.
	ObjectStore interface {
		Create(ctx context.Context, object *CanvasObject) (string, error)
		Get(ctx context.Context, id string) (*CanvasObject, error)
		List(ctx context.Context, boardID string) ([]*CanvasObject, error)
		Update(ctx context.Context, id string, patch Patch) (*CanvasObject, error)

		// BatchUpdate applies all patches atomically: after it returns, other
		// clients observe either all of the new states or none of them.
		BatchUpdate(ctx context.Context, patches map[string]Patch) error

		Delete(ctx context.Context, id string) error

		// Subscribe registers a change-feed callback for one board and
		// returns an unsubscribe function. Callbacks must not block.
		Subscribe(boardID string, fn func(ChangeEvent)) (unsubscribe func())

		// ReleaseExpiredLocks clears locks held longer than olderThan and
		// returns how many were released. Locks never expire on their own;
		// this is a maintenance operation for abandoned sessions.
		ReleaseExpiredLocks(ctx context.Context, boardID string, olderThan time.Duration) (int, error)
	}
)

// CheckLockClaim enforces the store-side lock arbitration rule shared by all
// backends: a patch claiming a lock is rejected when a different user already
// holds it. Writes are serialized per object, so whichever claim lands first
// wins and later claims observe the holder.
func CheckLockClaim(current *CanvasObject, p Patch) error {
	if p.ClaimsLock() && current.LockedBy != "" && current.LockedBy != *p.LockedBy {
		return ErrLockConflict
	}
	return nil
}
