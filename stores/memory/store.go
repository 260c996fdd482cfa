package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sketchd/core"
	"sketchd/stores/feed"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// objectStore keeps all canvas objects in process memory. Writes are fully
// serialized under one mutex, which gives BatchUpdate its atomicity and the
// change feed its per-object ordering for free.
type objectStore struct {
	mu      sync.RWMutex
	objects map[string]*core.CanvasObject
	feed    *feed.Feed
}

func NewStore() *objectStore {
	return &objectStore{
		objects: make(map[string]*core.CanvasObject),
		feed:    feed.New(),
	}
}

func (s *objectStore) Create(ctx context.Context, object *core.CanvasObject) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	obj := object.Clone()
	obj.ID = id
	obj.Version = 1
	obj.Sanitize()
	s.objects[id] = obj

	logrus.WithFields(logrus.Fields{
		"object_id": id,
		"board_id":  obj.BoardID,
		"type":      obj.Type,
	}).Info("Object created")

	s.feed.Publish(core.ChangeEvent{Type: core.EventAdded, ID: id, BoardID: obj.BoardID, Object: obj.Clone()})
	return id, nil
}

func (s *objectStore) Get(ctx context.Context, id string) (*core.CanvasObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, core.ErrNotFound)
	}
	return obj.Clone(), nil
}

func (s *objectStore) List(ctx context.Context, boardID string) ([]*core.CanvasObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects := make([]*core.CanvasObject, 0)
	for _, obj := range s.objects {
		if obj.BoardID == boardID {
			objects = append(objects, obj.Clone())
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })
	return objects, nil
}

func (s *objectStore) Update(ctx context.Context, id string, patch core.Patch) (*core.CanvasObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, core.ErrNotFound)
	}
	if err := core.CheckLockClaim(obj, patch); err != nil {
		logrus.WithFields(logrus.Fields{
			"object_id": id,
			"locked_by": obj.LockedBy,
		}).Debug("Lock claim rejected")
		return nil, err
	}

	next := obj.Clone()
	next.Apply(patch)
	next.Version = obj.Version + 1
	s.objects[id] = next

	s.feed.Publish(core.ChangeEvent{Type: core.EventModified, ID: id, BoardID: next.BoardID, Object: next.Clone()})
	return next.Clone(), nil
}

// BatchUpdate validates every patch before committing any of them: other
// clients observe either all of the new states or none.
func (s *objectStore) BatchUpdate(ctx context.Context, patches map[string]core.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]*core.CanvasObject, len(patches))
	for id, patch := range patches {
		obj, ok := s.objects[id]
		if !ok {
			return fmt.Errorf("object %s: %w", id, core.ErrNotFound)
		}
		if err := core.CheckLockClaim(obj, patch); err != nil {
			return err
		}
		next := obj.Clone()
		next.Apply(patch)
		next.Version = obj.Version + 1
		staged[id] = next
	}

	ids := make([]string, 0, len(staged))
	for id := range staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		next := staged[id]
		s.objects[id] = next
		s.feed.Publish(core.ChangeEvent{Type: core.EventModified, ID: id, BoardID: next.BoardID, Object: next.Clone()})
	}

	logrus.WithField("count", len(patches)).Debug("Batch update committed")
	return nil
}

func (s *objectStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[id]
	if !ok {
		return fmt.Errorf("object %s: %w", id, core.ErrNotFound)
	}
	delete(s.objects, id)

	logrus.WithFields(logrus.Fields{
		"object_id": id,
		"board_id":  obj.BoardID,
	}).Info("Object deleted")

	s.feed.Publish(core.ChangeEvent{Type: core.EventRemoved, ID: id, BoardID: obj.BoardID})
	return nil
}

func (s *objectStore) Subscribe(boardID string, fn func(core.ChangeEvent)) func() {
	return s.feed.Subscribe(boardID, fn)
}

func (s *objectStore) ReleaseExpiredLocks(ctx context.Context, boardID string, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	released := 0
	for id, obj := range s.objects {
		if obj.BoardID != boardID || obj.LockedBy == "" || obj.LockedAt > cutoff {
			continue
		}
		next := obj.Clone()
		next.LockedBy = ""
		next.LockedAt = 0
		next.Version = obj.Version + 1
		s.objects[id] = next
		released++
		s.feed.Publish(core.ChangeEvent{Type: core.EventModified, ID: id, BoardID: next.BoardID, Object: next.Clone()})
	}

	if released > 0 {
		logrus.WithFields(logrus.Fields{
			"board_id": boardID,
			"released": released,
		}).Info("Expired locks released")
	}
	return released, nil
}
