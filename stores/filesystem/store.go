package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sketchd/core"
	"sketchd/stores/feed"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// objectStore keeps one JSON file per object under basePath/<board>/<id>.json.
// Writes go through a staging file plus rename so a crash never leaves a torn
// object on disk. BatchUpdate stages every file before renaming any of them.
type objectStore struct {
	basePath string
	writeMu  sync.Mutex
	feed     *feed.Feed
}

func NewStore(basePath string) *objectStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		stdlog.Fatalf("failed to create base directory: %v", err)
	}
	return &objectStore{basePath: basePath, feed: feed.New()}
}

func (s *objectStore) objectPath(boardID, id string) string {
	return filepath.Join(s.basePath, boardID, id+".json")
}

func (s *objectStore) readObject(path string) (*core.CanvasObject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var obj core.CanvasObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// findObject scans board directories for id. Object ids are globally unique,
// so the first hit is the only one.
func (s *objectStore) findObject(id string) (*core.CanvasObject, string, error) {
	boards, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, "", err
	}
	for _, board := range boards {
		if !board.IsDir() {
			continue
		}
		path := s.objectPath(board.Name(), id)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		obj, err := s.readObject(path)
		if err != nil {
			return nil, "", err
		}
		return obj, path, nil
	}
	return nil, "", fmt.Errorf("object %s: %w", id, core.ErrNotFound)
}

// stageObject writes obj to a temp file next to its final path and returns a
// commit function that performs the rename.
func (s *objectStore) stageObject(obj *core.CanvasObject) (commit func() error, err error) {
	path := s.objectPath(obj.BoardID, obj.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, err
	}
	return func() error { return os.Rename(tmp, path) }, nil
}

func (s *objectStore) Create(ctx context.Context, object *core.CanvasObject) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	obj := object.Clone()
	obj.ID = ulid.Make().String()
	obj.Version = 1
	obj.Sanitize()

	commit, err := s.stageObject(obj)
	if err == nil {
		err = commit()
	}
	if err != nil {
		logrus.WithError(err).Error("Failed to create object")
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"object_id": obj.ID,
		"board_id":  obj.BoardID,
		"type":      obj.Type,
	}).Info("Object created")

	s.feed.Publish(core.ChangeEvent{Type: core.EventAdded, ID: obj.ID, BoardID: obj.BoardID, Object: obj.Clone()})
	return obj.ID, nil
}

func (s *objectStore) Get(ctx context.Context, id string) (*core.CanvasObject, error) {
	obj, _, err := s.findObject(id)
	return obj, err
}

func (s *objectStore) List(ctx context.Context, boardID string) ([]*core.CanvasObject, error) {
	dir := filepath.Join(s.basePath, boardID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []*core.CanvasObject{}, nil
	}
	if err != nil {
		return nil, err
	}

	objects := make([]*core.CanvasObject, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		obj, err := s.readObject(filepath.Join(dir, entry.Name()))
		if err != nil {
			logrus.WithError(err).WithField("file", entry.Name()).Warn("Skipping unreadable object file")
			continue
		}
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })
	return objects, nil
}

func (s *objectStore) Update(ctx context.Context, id string, patch core.Patch) (*core.CanvasObject, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	obj, _, err := s.findObject(id)
	if err != nil {
		return nil, err
	}
	if err := core.CheckLockClaim(obj, patch); err != nil {
		return nil, err
	}

	next := obj.Clone()
	next.Apply(patch)
	next.Version = obj.Version + 1

	commit, err := s.stageObject(next)
	if err == nil {
		err = commit()
	}
	if err != nil {
		logrus.WithError(err).Error("Failed to update object")
		return nil, err
	}

	s.feed.Publish(core.ChangeEvent{Type: core.EventModified, ID: id, BoardID: next.BoardID, Object: next.Clone()})
	return next.Clone(), nil
}

func (s *objectStore) BatchUpdate(ctx context.Context, patches map[string]core.Patch) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	staged := make([]*core.CanvasObject, 0, len(patches))
	commits := make([]func() error, 0, len(patches))
	for id, patch := range patches {
		obj, _, err := s.findObject(id)
		if err != nil {
			return err
		}
		if err := core.CheckLockClaim(obj, patch); err != nil {
			return err
		}
		next := obj.Clone()
		next.Apply(patch)
		next.Version = obj.Version + 1

		commit, err := s.stageObject(next)
		if err != nil {
			return err
		}
		staged = append(staged, next)
		commits = append(commits, commit)
	}

	// Every file is staged; renames are the commit point.
	for i, commit := range commits {
		if err := commit(); err != nil {
			logrus.WithError(err).WithField("object_id", staged[i].ID).Error("Batch commit failed mid-rename")
			return err
		}
	}

	for _, next := range staged {
		s.feed.Publish(core.ChangeEvent{Type: core.EventModified, ID: next.ID, BoardID: next.BoardID, Object: next.Clone()})
	}

	logrus.WithField("count", len(patches)).Debug("Batch update committed")
	return nil
}

func (s *objectStore) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	obj, path, err := s.findObject(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		logrus.WithError(err).Error("Failed to delete object")
		return err
	}

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
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	objects, err := s.listLocked(boardID)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	released := 0
	for _, obj := range objects {
		if obj.LockedBy == "" || obj.LockedAt > cutoff {
			continue
		}
		next := obj.Clone()
		next.LockedBy = ""
		next.LockedAt = 0
		next.Version = obj.Version + 1

		commit, err := s.stageObject(next)
		if err == nil {
			err = commit()
		}
		if err != nil {
			return released, err
		}
		released++
		s.feed.Publish(core.ChangeEvent{Type: core.EventModified, ID: next.ID, BoardID: next.BoardID, Object: next.Clone()})
	}

	if released > 0 {
		logrus.WithFields(logrus.Fields{
			"board_id": boardID,
			"released": released,
		}).Info("Expired locks released")
	}
	return released, nil
}

func (s *objectStore) listLocked(boardID string) ([]*core.CanvasObject, error) {
	dir := filepath.Join(s.basePath, boardID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	objects := make([]*core.CanvasObject, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		obj, err := s.readObject(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
