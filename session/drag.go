package session

import (
	"context"
	"errors"
	"fmt"

	"sketchd/core"
)

// ErrNoDrag reports a drag frame arriving without an active gesture.
var ErrNoDrag = errors.New("no drag in progress")

// dragState captures the selection's positions once, at gesture start. Every
// frame derives target positions from this immutable snapshot:
//
//	newPos[i] = startPos[i] + (currentPointer - startPointer)
//
// Recomputing deltas frame-over-frame from current positions compounds
// rounding across objects; the fixed snapshot keeps the group rigid no
// matter how many move events fire.
type dragState struct {
	startPointer core.Point
	startPos     map[string]core.Point
}

// BeginDrag starts a group drag of the current selection from the given
// pointer position.
func (s *Session) BeginDrag(pointer core.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.selection) == 0 {
		return errors.New("begin drag: empty selection")
	}

	start := make(map[string]core.Point, len(s.selection))
	for id := range s.selection {
		obj, ok := s.objects[id]
		if !ok || obj.LockedBy != s.userID {
			return fmt.Errorf("begin drag %s: %w", id, ErrNotHolder)
		}
		start[id] = core.Point{X: obj.X, Y: obj.Y}
	}

	s.drag = &dragState{startPointer: pointer, startPos: start}
	return nil
}

// DragTo applies one pointer-move frame: local positions update immediately
// and each object schedules a throttled write.
func (s *Session) DragTo(pointer core.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drag == nil {
		return ErrNoDrag
	}

	dx := pointer.X - s.drag.startPointer.X
	dy := pointer.Y - s.drag.startPointer.Y
	for id, start := range s.drag.startPos {
		if _, ok := s.objects[id]; !ok {
			// Deleted mid-drag; reconciler already dropped it.
			continue
		}
		patch := core.Patch{X: core.Float(start.X + dx), Y: core.Float(start.Y + dy)}
		if s.updateLocal(id, patch) {
			s.schedule(id, patch, DragThrottle)
		}
	}
	return nil
}

// EndDrag finalizes the gesture with one atomic batch write of the final
// positions. The batch coordinator cancels the per-object throttles for the
// target set first, so no intermediate frame can land after the final state.
func (s *Session) EndDrag(ctx context.Context, pointer core.Point) error {
	s.mu.Lock()
	if s.drag == nil {
		s.mu.Unlock()
		return ErrNoDrag
	}
	drag := s.drag
	s.drag = nil

	dx := pointer.X - drag.startPointer.X
	dy := pointer.Y - drag.startPointer.Y
	patches := make(map[string]core.Patch, len(drag.startPos))
	for id, start := range drag.startPos {
		if _, ok := s.objects[id]; !ok {
			continue
		}
		patches[id] = core.Patch{X: core.Float(start.X + dx), Y: core.Float(start.Y + dy)}
	}
	s.mu.Unlock()

	return s.BatchUpdate(ctx, patches)
}

// Dragging reports whether a drag gesture is active.
func (s *Session) Dragging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drag != nil
}
