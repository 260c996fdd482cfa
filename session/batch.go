package session

import (
	"context"
	"fmt"

	"sketchd/core"
)

// BatchUpdate mutates several objects as one atomic store write: local state
// is updated immediately, pending throttled writes for the target set are
// canceled, dispatched flushes are waited out, and a single all-or-nothing
// write is issued. Both steps must come before the write: a single-object
// write landing after the batch would snap objects back to a stale
// intermediate state.
//
// On any failure all local state rolls back to the last confirmed snapshot.
func (s *Session) BatchUpdate(ctx context.Context, patches map[string]core.Patch) error {
	if len(patches) == 0 {
		return nil
	}

	s.mu.Lock()
	for id := range patches {
		if !s.holdsLock(id) {
			s.mu.Unlock()
			return fmt.Errorf("batch update %s: %w", id, ErrNotHolder)
		}
	}

	ids := make([]string, 0, len(patches))
	outbound := make(map[string]core.Patch, len(patches))
	for id, patch := range patches {
		s.objects[id].Apply(patch)
		patch.ModifiedBy = core.String(s.userID)
		outbound[id] = patch
		ids = append(ids, id)
	}
	s.cancelPending(ids)
	s.mu.Unlock()

	// Cancellation only stops payloads still in their slots. A flush already
	// dispatched holds an inFlight reference; wait it out so the batch write
	// is the last to reach the store.
	s.inFlight.Wait()

	if err := s.store.BatchUpdate(ctx, outbound); err != nil {
		s.mu.Lock()
		s.rollback("batch write failed: " + err.Error())
		s.mu.Unlock()
		return err
	}

	s.log.WithField("count", len(patches)).Debug("Batch update persisted")
	return nil
}
