package session

import (
	"context"
	"errors"
	"time"

	"sketchd/core"
)

// Throttle windows per interaction. Tunables, not contracts: drags tolerate a
// longer window than rotation, which updates a single scalar.
const (
	DragThrottle   = 200 * time.Millisecond
	ResizeThrottle = 100 * time.Millisecond
	RotateThrottle = 50 * time.Millisecond
	TextThrottle   = 250 * time.Millisecond
)

// pendingWrite is the per-object throttle slot: at most one pending payload
// and one armed timer per object. Superseding payloads merge into the slot
// rather than queueing, so a flush always carries the latest state.
type pendingWrite struct {
	patch     core.Patch
	timer     *time.Timer
	lastFlush time.Time
}

// schedule coalesces patch into the object's throttle slot. If no write went
// out within the window the flush happens immediately; otherwise the payload
// waits for the single armed timer. Callers hold s.mu.
func (s *Session) schedule(id string, patch core.Patch, window time.Duration) {
	pw, ok := s.pending[id]
	if !ok {
		pw = &pendingWrite{}
		s.pending[id] = pw
	}
	pw.patch = mergePatch(pw.patch, patch)

	now := time.Now()
	if now.Sub(pw.lastFlush) >= window {
		pw.lastFlush = now
		payload := pw.patch
		pw.patch = core.Patch{}
		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			s.flush(id, payload)
		}()
		return
	}

	if pw.timer == nil {
		delay := pw.lastFlush.Add(window).Sub(now)
		pw.timer = time.AfterFunc(delay, func() { s.flushTimer(id) })
	}
}

// flushTimer fires when a throttle window elapses with a payload waiting.
func (s *Session) flushTimer(id string) {
	s.mu.Lock()
	pw, ok := s.pending[id]
	if !ok {
		// Canceled between fire and lock acquisition.
		s.mu.Unlock()
		return
	}
	pw.timer = nil
	payload := pw.patch
	pw.patch = core.Patch{}
	pw.lastFlush = time.Now()
	// Register under the mutex: once the payload is popped, cancellation can
	// no longer stop this write, so batch writers must be able to wait on it.
	s.inFlight.Add(1)
	s.mu.Unlock()

	defer s.inFlight.Done()
	s.flush(id, payload)
}

// flush persists one coalesced payload. A write failure triggers the global
// rollback; a missing object is reconciled as a no-op with a notice.
func (s *Session) flush(id string, patch core.Patch) {
	patch.ModifiedBy = core.String(s.userID)

	updated, err := s.store.Update(context.Background(), id, patch)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if errors.Is(err, core.ErrNotFound) {
			s.log.WithField("object_id", id).Info("Throttled write targeted a deleted object")
			s.notify(Notice{Kind: NoticeObjectGone, ObjectID: id})
			return
		}
		s.log.WithError(err).WithField("object_id", id).Error("Throttled write failed")
		s.rollback("write failed: " + err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirm(updated)
	// Carry the authoritative version onto the working copy so stale-echo
	// comparisons in the reconciler see the latest accepted write.
	if obj, ok := s.objects[id]; ok {
		obj.Version = updated.Version
		obj.ModifiedBy = updated.ModifiedBy
	}
}

// CancelPending drops any armed throttle timers and pending payloads for the
// given objects without flushing them. Every multi-object or finalize write
// must call this for its target set first, so a stale single-object write can
// never land after the authoritative batch.
func (s *Session) CancelPending(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelPending(ids)
}

func (s *Session) cancelPending(ids []string) {
	for _, id := range ids {
		pw, ok := s.pending[id]
		if !ok {
			continue
		}
		if pw.timer != nil {
			pw.timer.Stop()
		}
		delete(s.pending, id)
	}
}

// hasPending reports whether a coalesced payload or armed timer exists for
// id. Callers hold s.mu.
func (s *Session) hasPending(id string) bool {
	pw, ok := s.pending[id]
	return ok && (pw.timer != nil || !patchEmpty(pw.patch))
}

// mergePatch overlays the non-nil fields of next onto base.
func mergePatch(base, next core.Patch) core.Patch {
	if next.X != nil {
		base.X = next.X
	}
	if next.Y != nil {
		base.Y = next.Y
	}
	if next.Width != nil {
		base.Width = next.Width
	}
	if next.Height != nil {
		base.Height = next.Height
	}
	if next.Radius != nil {
		base.Radius = next.Radius
	}
	if next.Rotation != nil {
		base.Rotation = next.Rotation
	}
	if next.Color != nil {
		base.Color = next.Color
	}
	if next.Text != nil {
		base.Text = next.Text
	}
	if next.FontFamily != nil {
		base.FontFamily = next.FontFamily
	}
	if next.FontSize != nil {
		base.FontSize = next.FontSize
	}
	if next.FontWeight != nil {
		base.FontWeight = next.FontWeight
	}
	if next.FontStyle != nil {
		base.FontStyle = next.FontStyle
	}
	if next.TextDecoration != nil {
		base.TextDecoration = next.TextDecoration
	}
	if next.TextAlign != nil {
		base.TextAlign = next.TextAlign
	}
	if next.TextColor != nil {
		base.TextColor = next.TextColor
	}
	if next.BackgroundColor != nil {
		base.BackgroundColor = next.BackgroundColor
	}
	if next.ModifiedBy != nil {
		base.ModifiedBy = next.ModifiedBy
	}
	if next.LockedBy != nil {
		base.LockedBy = next.LockedBy
	}
	if next.LockedAt != nil {
		base.LockedAt = next.LockedAt
	}
	return base
}

func patchEmpty(p core.Patch) bool {
	return p == (core.Patch{})
}
