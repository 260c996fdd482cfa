package session

import (
	"context"
	"errors"
	"testing"

	"sketchd/core"
	"sketchd/stores/memory"
)

func TestUpdateLocal_NoStoreWrite(t *testing.T) {
	store := newInstrumentedStore()
	id := seedRect(t, store, 10, 10)

	s := newTestSession(t, store, "alice")
	if !s.Select(context.Background(), id) {
		t.Fatal("select failed")
	}

	if !s.UpdateLocal(id, core.Patch{X: core.Float(42)}) {
		t.Fatal("UpdateLocal rejected a held object")
	}

	obj, _ := s.Object(id)
	if obj.X != 42 {
		t.Errorf("local X = %v, want 42", obj.X)
	}
	if updates, _ := store.counts(); updates != 0 {
		t.Errorf("UpdateLocal issued %d store writes, want 0", updates)
	}
	stored, _ := store.Get(context.Background(), id)
	if stored.X != 10 {
		t.Errorf("store X = %v, want untouched 10", stored.X)
	}
}

func TestUpdateLocal_RequiresLock(t *testing.T) {
	store := memory.NewStore()
	id := seedRect(t, store, 10, 10)

	s := newTestSession(t, store, "alice")
	if s.UpdateLocal(id, core.Patch{X: core.Float(42)}) {
		t.Error("mutation of an unheld object must be rejected")
	}

	bob := newTestSession(t, store, "bob")
	if !bob.Acquire(context.Background(), id) {
		t.Fatal("bob acquire failed")
	}
	waitFor(t, "alice to see bob's lock", func() bool {
		obj, ok := s.Object(id)
		return ok && obj.LockedBy == "bob"
	})
	if s.UpdateLocal(id, core.Patch{X: core.Float(42)}) {
		t.Error("mutation of an object locked by another user must be rejected")
	}
}

func TestUpdateOptimistic_CoalescesWrites(t *testing.T) {
	store := newInstrumentedStore()
	id := seedRect(t, store, 0, 0)

	s := newTestSession(t, store, "alice")
	if !s.Select(context.Background(), id) {
		t.Fatal("select failed")
	}

	// A burst of updates inside one window: leading edge flushes once, the
	// rest coalesce into a single trailing flush.
	for i := 1; i <= 20; i++ {
		s.UpdateOptimistic(id, core.Patch{X: core.Float(float64(i))}, DragThrottle)
	}

	waitFor(t, "trailing flush to land", func() bool {
		obj, err := store.Get(context.Background(), id)
		return err == nil && obj.X == 20
	})

	updates, _ := store.counts()
	if updates > 2 {
		t.Errorf("burst of 20 updates produced %d store writes, want at most 2", updates)
	}
	obj, _ := s.Object(id)
	if obj.X != 20 {
		t.Errorf("working copy X = %v, want 20", obj.X)
	}
}

func TestUpdateOptimistic_RollbackOnFailure(t *testing.T) {
	store := newInstrumentedStore()
	id := seedRect(t, store, 10, 10)

	s := newTestSession(t, store, "alice")
	if !s.Select(context.Background(), id) {
		t.Fatal("select failed")
	}
	store.setFailWrites(errors.New("disk full"))

	s.UpdateOptimistic(id, core.Patch{X: core.Float(500)}, RotateThrottle)

	expectNotice(t, s, NoticeRollback)

	obj, _ := s.Object(id)
	if obj.X != 10 {
		t.Errorf("after rollback X = %v, want last confirmed 10", obj.X)
	}
	// The lock itself was confirmed, so selection survives the revert.
	if obj.LockedBy != "alice" || !s.Selected(id) {
		t.Error("rollback must keep confirmed lock ownership and selection")
	}
}

func TestUpdateOptimistic_ObjectGoneIsNotRollback(t *testing.T) {
	store := newInstrumentedStore()
	a := seedRect(t, store, 10, 10)
	b := seedRect(t, store, 100, 10)

	s := newTestSession(t, store, "alice")
	if !s.Select(context.Background(), a) || !s.Select(context.Background(), b) {
		t.Fatal("select failed")
	}
	s.UpdateLocal(b, core.Patch{X: core.Float(111)})

	// The object vanishes out from under the flush. That is a skipped write,
	// not a session-wide rollback.
	if err := store.ObjectStore.Delete(context.Background(), a); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	s.UpdateOptimistic(a, core.Patch{X: core.Float(50)}, RotateThrottle)

	expectNotice(t, s, NoticeObjectGone)

	obj, ok := s.Object(b)
	if !ok || obj.X != 111 {
		t.Error("unrelated optimistic state must survive an object-gone flush")
	}
}

func TestCreateObject_LockedAndSelected(t *testing.T) {
	store := memory.NewStore()
	s := newTestSession(t, store, "alice")

	id, err := s.CreateObject(context.Background(), &core.CanvasObject{
		Type: core.Rectangle, X: 5, Y: 5, Width: 30, Height: 30,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	obj, ok := s.Object(id)
	if !ok {
		t.Fatal("created object missing from cache")
	}
	if obj.LockedBy != "alice" {
		t.Errorf("LockedBy = %q, want alice", obj.LockedBy)
	}
	if obj.CreatedBy != "alice" || obj.ModifiedBy != "alice" {
		t.Errorf("authorship = %q/%q, want alice/alice", obj.CreatedBy, obj.ModifiedBy)
	}
	if !s.Selected(id) {
		t.Error("created object should be selected")
	}

	stored, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.LockedBy != "alice" {
		t.Errorf("store LockedBy = %q, want alice", stored.LockedBy)
	}
}

func TestCreateObject_CircleConvention(t *testing.T) {
	store := memory.NewStore()
	s := newTestSession(t, store, "alice")

	// Center near the origin: the center is clamped so the circle stays
	// fully inside the canvas.
	id, err := s.CreateObject(context.Background(), &core.CanvasObject{
		Type: core.Circle, X: 0, Y: 0, Radius: 40,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	obj, _ := s.Object(id)
	if obj.X != 40 || obj.Y != 40 {
		t.Errorf("clamped center = (%v,%v), want (40,40)", obj.X, obj.Y)
	}
	b := core.Bounds(obj)
	if b.X != 0 || b.Y != 0 || b.Width != 80 {
		t.Errorf("bounds = %+v, want 0,0,80x80", b)
	}
}

func TestDeleteObject_RequiresLock(t *testing.T) {
	store := memory.NewStore()
	id := seedRect(t, store, 10, 10)

	s := newTestSession(t, store, "alice")
	if err := s.DeleteObject(context.Background(), id); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("delete without lock: err = %v, want ErrNotHolder", err)
	}

	if !s.Select(context.Background(), id) {
		t.Fatal("select failed")
	}
	if err := s.DeleteObject(context.Background(), id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := s.Object(id); ok {
		t.Error("deleted object still in cache")
	}
	if _, err := store.Get(context.Background(), id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("store Get err = %v, want ErrNotFound", err)
	}
}

func TestDuplicate_OffsetCopy(t *testing.T) {
	store := memory.NewStore()
	s := newTestSession(t, store, "alice")

	orig, err := s.CreateObject(context.Background(), &core.CanvasObject{
		Type: core.Rectangle, X: 100, Y: 200, Width: 60, Height: 40, Color: "#ff0000",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	copyID, err := s.Duplicate(context.Background(), orig)
	if err != nil {
		t.Fatalf("duplicate failed: %v", err)
	}
	if copyID == orig {
		t.Fatal("duplicate returned the original id")
	}

	cp, ok := s.Object(copyID)
	if !ok {
		t.Fatal("copy missing from cache")
	}
	if cp.X != 120 || cp.Y != 220 {
		t.Errorf("copy at (%v,%v), want (120,220)", cp.X, cp.Y)
	}
	if cp.Color != "#ff0000" || cp.Width != 60 {
		t.Error("copy did not carry source fields")
	}
	if cp.LockedBy != "alice" {
		t.Errorf("copy LockedBy = %q, want alice", cp.LockedBy)
	}

	// Lock moves to the copy; the original is free for others again.
	original, _ := s.Object(orig)
	waitFor(t, "original lock released", func() bool {
		original, _ = s.Object(orig)
		return original != nil && original.LockedBy == ""
	})
	if s.Selected(orig) {
		t.Error("original should be deselected after duplicate")
	}
	if !s.Selected(copyID) {
		t.Error("copy should be selected after duplicate")
	}
}
