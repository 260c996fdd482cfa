package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sketchd/core"
)

func TestMain(m *testing.M) {
	if !CGOEnabled {
		fmt.Println("skipping sqlite store tests: CGO disabled")
		os.Exit(0)
	}

	os.Exit(m.Run())
}

func setupTestStore(t *testing.T) *objectStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	return NewStore(dbPath)
}

func newRect(boardID string, x, y float64) *core.CanvasObject {
	return &core.CanvasObject{
		BoardID: boardID,
		Type:    core.Rectangle,
		X:       x, Y: y,
		Width: 50, Height: 50,
	}
}

func TestCreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &core.CanvasObject{
		BoardID: "b1", Type: core.Text,
		X: 10, Y: 20, Width: 200, Height: 40,
		Text: "hello", FontFamily: "monospace", FontSize: 14,
		CreatedBy: "alice",
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	obj, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if obj.Text != "hello" || obj.FontFamily != "monospace" || obj.CreatedBy != "alice" {
		t.Errorf("round-trip lost fields: %+v", obj)
	}
	if obj.Version != 1 {
		t.Errorf("Version = %d, want 1", obj.Version)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), "nonexistent")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() err = %v, want ErrNotFound", err)
	}
}

func TestUpdate_LockArbitration(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, _ := store.Create(ctx, newRect("b1", 100, 100))

	if _, err := store.Update(ctx, id, core.Patch{LockedBy: core.String("alice")}); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := store.Update(ctx, id, core.Patch{LockedBy: core.String("bob")}); !errors.Is(err, core.ErrLockConflict) {
		t.Errorf("second claim err = %v, want ErrLockConflict", err)
	}
}

func TestBatchUpdate_TransactionRollsBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, _ := store.Create(ctx, newRect("b1", 100, 100))

	err := store.BatchUpdate(ctx, map[string]core.Patch{
		id:        {X: core.Float(999)},
		"missing": {X: core.Float(1)},
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("BatchUpdate() err = %v, want ErrNotFound", err)
	}

	obj, _ := store.Get(ctx, id)
	if obj.X != 100 || obj.Version != 1 {
		t.Errorf("object = x=%v version=%d after rollback, want x=100 version=1", obj.X, obj.Version)
	}
}

func TestReleaseExpiredLocks(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, _ := store.Create(ctx, newRect("b1", 100, 100))
	stale := time.Now().Add(-time.Hour).UnixMilli()
	if _, err := store.Update(ctx, id, core.Patch{
		LockedBy: core.String("ghost"),
		LockedAt: core.Int(stale),
	}); err != nil {
		t.Fatalf("lock setup failed: %v", err)
	}

	released, err := store.ReleaseExpiredLocks(ctx, "b1", 10*time.Minute)
	if err != nil {
		t.Fatalf("ReleaseExpiredLocks() failed: %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}

	obj, _ := store.Get(ctx, id)
	if obj.LockedBy != "" {
		t.Errorf("LockedBy = %q, want released", obj.LockedBy)
	}
}

func TestList_OrderedByID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Create(ctx, newRect("b1", float64(i), 0)); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	objects, err := store.List(ctx, "b1")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("List() = %d objects, want 3", len(objects))
	}
	for i := 1; i < len(objects); i++ {
		if objects[i].ID < objects[i-1].ID {
			t.Errorf("List() not ordered by id")
		}
	}
}
