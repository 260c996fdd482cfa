package session

import (
	"context"
	"errors"
	"testing"

	"sketchd/core"
	"sketchd/stores/memory"
)

func TestDrag_GroupMoveFromSnapshot(t *testing.T) {
	store := memory.NewStore()
	r1 := seedRect(t, store, 100, 100)
	r2 := seedRect(t, store, 200, 200)

	s := newTestSession(t, store, "alice")
	if got := s.SelectMany(context.Background(), []string{r1, r2}); len(got) != 2 {
		t.Fatalf("selected %d, want 2", len(got))
	}

	if err := s.BeginDrag(core.Point{X: 120, Y: 120}); err != nil {
		t.Fatalf("BeginDrag failed: %v", err)
	}
	if err := s.EndDrag(context.Background(), core.Point{X: 150, Y: 110}); err != nil {
		t.Fatalf("EndDrag failed: %v", err)
	}

	// Pointer moved (+30,-10); both objects translate by the same delta.
	wantPos := map[string]core.Point{
		r1: {X: 130, Y: 90},
		r2: {X: 230, Y: 190},
	}
	for id, want := range wantPos {
		stored, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", id, err)
		}
		if stored.X != want.X || stored.Y != want.Y {
			t.Errorf("%s at (%v,%v), want (%v,%v)", id, stored.X, stored.Y, want.X, want.Y)
		}
	}
}

func TestDrag_ManyFramesSameResultAsOne(t *testing.T) {
	run := func(frames int) core.Point {
		store := memory.NewStore()
		id := seedRect(t, store, 100, 50)
		s := newTestSession(t, store, "alice")
		if !s.Select(context.Background(), id) {
			t.Fatal("select failed")
		}
		if err := s.BeginDrag(core.Point{X: 0, Y: 0}); err != nil {
			t.Fatalf("BeginDrag failed: %v", err)
		}
		for i := 1; i <= frames; i++ {
			p := core.Point{
				X: 30 * float64(i) / float64(frames),
				Y: 40 * float64(i) / float64(frames),
			}
			if i < frames {
				if err := s.DragTo(p); err != nil {
					t.Fatalf("DragTo failed: %v", err)
				}
			} else {
				if err := s.EndDrag(context.Background(), p); err != nil {
					t.Fatalf("EndDrag failed: %v", err)
				}
			}
		}
		stored, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		s.Close()
		return core.Point{X: stored.X, Y: stored.Y}
	}

	one := run(1)
	fifty := run(50)
	if one != fifty {
		t.Errorf("1-frame drag ended at %+v, 50-frame at %+v; deltas must match", one, fifty)
	}
	if one.X != 130 || one.Y != 90 {
		t.Errorf("final position %+v, want (130,90)", one)
	}
}

func TestDrag_RequiresBegin(t *testing.T) {
	store := memory.NewStore()
	s := newTestSession(t, store, "alice")

	if err := s.DragTo(core.Point{X: 1, Y: 1}); !errors.Is(err, ErrNoDrag) {
		t.Errorf("DragTo err = %v, want ErrNoDrag", err)
	}
	if err := s.EndDrag(context.Background(), core.Point{X: 1, Y: 1}); !errors.Is(err, ErrNoDrag) {
		t.Errorf("EndDrag err = %v, want ErrNoDrag", err)
	}
}

func TestDrag_RequiresSelection(t *testing.T) {
	store := memory.NewStore()
	seedRect(t, store, 10, 10)

	s := newTestSession(t, store, "alice")
	if err := s.BeginDrag(core.Point{X: 0, Y: 0}); err == nil {
		t.Error("BeginDrag with empty selection should fail")
	}
	if s.Dragging() {
		t.Error("Dragging() = true after failed BeginDrag")
	}
}

func TestDrag_EndClearsState(t *testing.T) {
	store := memory.NewStore()
	id := seedRect(t, store, 10, 10)

	s := newTestSession(t, store, "alice")
	if !s.Select(context.Background(), id) {
		t.Fatal("select failed")
	}
	if err := s.BeginDrag(core.Point{X: 0, Y: 0}); err != nil {
		t.Fatalf("BeginDrag failed: %v", err)
	}
	if !s.Dragging() {
		t.Fatal("Dragging() = false mid-drag")
	}
	if err := s.EndDrag(context.Background(), core.Point{X: 5, Y: 5}); err != nil {
		t.Fatalf("EndDrag failed: %v", err)
	}
	if s.Dragging() {
		t.Error("Dragging() = true after EndDrag")
	}
	if err := s.DragTo(core.Point{X: 9, Y: 9}); !errors.Is(err, ErrNoDrag) {
		t.Errorf("DragTo after end: err = %v, want ErrNoDrag", err)
	}
}
