package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sketchd/core"
	"sketchd/stores/memory"
)

func TestAcquire_Exclusive(t *testing.T) {
	store := memory.NewStore()
	id := seedRect(t, store, 10, 10)

	alice := newTestSession(t, store, "alice")
	bob := newTestSession(t, store, "bob")

	if !alice.Acquire(context.Background(), id) {
		t.Fatal("alice should win the free lock")
	}
	if bob.Acquire(context.Background(), id) {
		t.Fatal("bob should lose while alice holds the lock")
	}
	if !alice.Acquire(context.Background(), id) {
		t.Error("re-acquiring a held lock should succeed")
	}
}

func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	store := memory.NewStore()
	id := seedRect(t, store, 10, 10)

	const contenders = 8
	sessions := make([]*Session, contenders)
	for i := range sessions {
		sessions[i] = newTestSession(t, store, "user-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	wins := make([]bool, contenders)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i] = sessions[i].Acquire(context.Background(), id)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("got %d winners, want exactly 1", won)
	}
}

func TestAcquire_AfterRelease(t *testing.T) {
	store := memory.NewStore()
	id := seedRect(t, store, 10, 10)

	alice := newTestSession(t, store, "alice")
	bob := newTestSession(t, store, "bob")

	if !alice.Acquire(context.Background(), id) {
		t.Fatal("alice acquire failed")
	}
	if bob.Acquire(context.Background(), id) {
		t.Fatal("bob should be rejected while alice holds")
	}
	alice.Release(context.Background(), id)

	waitFor(t, "bob to see the lock freed", func() bool {
		return bob.Acquire(context.Background(), id)
	})
}

func TestAcquire_NetworkFailureIsFailure(t *testing.T) {
	store := newInstrumentedStore()
	id := seedRect(t, store, 10, 10)

	s := newTestSession(t, store, "alice")
	store.setFailAll(errors.New("store unreachable"))

	if s.Acquire(context.Background(), id) {
		t.Fatal("acquire must report failure when the store write fails")
	}

	obj, _ := s.Object(id)
	if obj.LockedBy != "" {
		t.Errorf("local cache shows LockedBy=%q after failed acquire", obj.LockedBy)
	}
}

func TestAcquire_MissingObject(t *testing.T) {
	store := memory.NewStore()
	s := newTestSession(t, store, "alice")

	if s.Acquire(context.Background(), "no-such-id") {
		t.Error("acquiring an unknown object should fail")
	}
}

func TestAcquireMany_PartialSuccess(t *testing.T) {
	store := memory.NewStore()
	a := seedRect(t, store, 0, 0)
	b := seedRect(t, store, 100, 0)
	c := seedRect(t, store, 200, 0)

	bob := newTestSession(t, store, "bob")
	if !bob.Acquire(context.Background(), b) {
		t.Fatal("bob acquire failed")
	}

	alice := newTestSession(t, store, "alice")
	waitFor(t, "alice to see bob's lock", func() bool {
		obj, ok := alice.Object(b)
		return ok && obj.LockedBy == "bob"
	})

	won := alice.AcquireMany(context.Background(), []string{a, b, c})
	if len(won) != 2 {
		t.Fatalf("won %d locks, want 2 (got %v)", len(won), won)
	}
	for _, id := range won {
		if id == b {
			t.Error("alice must not win an object bob holds")
		}
	}
}

func TestRelease_OnlyHolderReleases(t *testing.T) {
	store := memory.NewStore()
	id := seedRect(t, store, 10, 10)

	alice := newTestSession(t, store, "alice")
	bob := newTestSession(t, store, "bob")

	if !alice.Acquire(context.Background(), id) {
		t.Fatal("alice acquire failed")
	}

	// Bob never held it; his release must be a no-op.
	bob.Release(context.Background(), id)

	obj, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if obj.LockedBy != "alice" {
		t.Errorf("LockedBy = %q, want alice", obj.LockedBy)
	}
}

func TestRelease_FlushesPendingEdit(t *testing.T) {
	store := newInstrumentedStore()
	id := seedRect(t, store, 10, 10)

	s := newTestSession(t, store, "alice")
	if !s.Select(context.Background(), id) {
		t.Fatal("select failed")
	}

	// First write flushes immediately, second stays pending in the window.
	s.UpdateOptimistic(id, core.Patch{X: core.Float(20)}, DragThrottle)
	waitFor(t, "leading edge flush", func() bool {
		u, _ := store.counts()
		return u >= 1
	})
	s.UpdateOptimistic(id, core.Patch{X: core.Float(30)}, DragThrottle)

	s.Release(context.Background(), id)

	waitFor(t, "pending edit to reach the store", func() bool {
		obj, err := store.Get(context.Background(), id)
		return err == nil && obj.X == 30 && obj.LockedBy == ""
	})
}

func TestLockHandoffSequence(t *testing.T) {
	store := memory.NewStore()

	alice := newTestSession(t, store, "alice")
	bob := newTestSession(t, store, "bob")

	id, err := alice.CreateObject(context.Background(), &core.CanvasObject{
		Type: core.Rectangle, X: 100, Y: 100, Width: 50, Height: 50,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Creation locks the object for its author.
	waitFor(t, "bob to see the new object", func() bool {
		_, ok := bob.Object(id)
		return ok
	})
	if bob.Acquire(context.Background(), id) {
		t.Fatal("bob must not win a freshly created object")
	}

	alice.Release(context.Background(), id)
	waitFor(t, "bob to win after handoff", func() bool {
		return bob.Acquire(context.Background(), id)
	})
}
