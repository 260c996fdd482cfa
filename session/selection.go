package session

import (
	"context"
	"fmt"
	"sort"
)

// LockState is the derived interaction state of an object from this
// session's perspective. It is computed from the cached lock fields, never
// stored.
type LockState string

const (
	Free          LockState = "free"
	LockedBySelf  LockState = "locked-by-self"
	LockedByOther LockState = "locked-by-other"
)

// LockState returns the interaction state of an object. Unknown objects
// report Free; any mutation on them still fails lock gating.
func (s *Session) LockState(id string) LockState {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok || obj.LockedBy == "" {
		return Free
	}
	if obj.LockedBy == s.userID {
		return LockedBySelf
	}
	return LockedByOther
}

// Select acquires the lock on an object and adds it to the selection set.
// Selection fails when another user holds the lock.
func (s *Session) Select(ctx context.Context, id string) bool {
	if !s.Acquire(ctx, id) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection[id] = struct{}{}
	return true
}

// SelectMany attempts to select each id independently and returns the subset
// that succeeded. A partial result is normal multi-user behavior, surfaced
// to the caller so the UI can say "selected N of M".
func (s *Session) SelectMany(ctx context.Context, ids []string) []string {
	selected := make([]string, 0, len(ids))
	for _, id := range ids {
		if s.Select(ctx, id) {
			selected = append(selected, id)
		}
	}
	if len(selected) < len(ids) {
		s.notify(Notice{
			Kind:    NoticePartialSelection,
			Message: fmt.Sprintf("selected %d of %d; rest locked by others", len(selected), len(ids)),
		})
	}
	return selected
}

// SelectAll tries to select every object on the board and reports how many
// of the total it won.
func (s *Session) SelectAll(ctx context.Context) (selected, total int) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	return len(s.SelectMany(ctx, ids)), len(ids)
}

// Deselect releases the lock and drops the object from the selection set.
func (s *Session) Deselect(ctx context.Context, id string) {
	s.Release(ctx, id)
}

// ClearSelection deselects everything, releasing every held lock.
func (s *Session) ClearSelection(ctx context.Context) {
	for _, id := range s.Selection() {
		s.Release(ctx, id)
	}
}

// Selection returns the ids currently selected, sorted for determinism.
func (s *Session) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.selection))
	for id := range s.selection {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Selected reports whether id is in the selection set.
func (s *Session) Selected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.selection[id]
	return ok
}
