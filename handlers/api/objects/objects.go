package objects

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sketchd/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	CreateResponse struct {
		ID string `json:"id"`
	}

	LockRequest struct {
		UserID string `json:"userId"`
	}

	ReleaseExpiredResponse struct {
		Released int `json:"released"`
	}
)

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		http.Error(w, "Object not found", http.StatusNotFound)
	case errors.Is(err, core.ErrLockConflict):
		http.Error(w, "Object locked by another user", http.StatusConflict)
	default:
		http.Error(w, "Store operation failed", http.StatusInternalServerError)
	}
}

// HandleCreate persists a new object on a board.
func HandleCreate(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		boardID := chi.URLParam(r, "boardId")

		var obj core.CanvasObject
		if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
			logrus.WithField("error", err).Error("Failed to decode object")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		obj.BoardID = boardID

		id, err := store.Create(r.Context(), &obj)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to create object")
			http.Error(w, "Failed to create object", http.StatusInternalServerError)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateResponse{ID: id})
	}
}

// HandleList returns every object on a board.
func HandleList(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		boardID := chi.URLParam(r, "boardId")

		objects, err := store.List(r.Context(), boardID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list objects")
			http.Error(w, "Failed to list objects", http.StatusInternalServerError)
			return
		}
		if objects == nil {
			objects = []*core.CanvasObject{}
		}
		render.JSON(w, r, objects)
	}
}

// HandleGet returns a single object.
func HandleGet(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		obj, err := store.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		render.JSON(w, r, obj)
	}
}

// HandleUpdate applies a partial-field update to one object.
func HandleUpdate(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var patch core.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			logrus.WithField("error", err).Error("Failed to decode patch")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		obj, err := store.Update(r.Context(), id, patch)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		render.JSON(w, r, obj)
	}
}

// HandleBatchUpdate applies patches to several objects atomically.
func HandleBatchUpdate(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patches map[string]core.Patch
		if err := json.NewDecoder(r.Body).Decode(&patches); err != nil {
			logrus.WithField("error", err).Error("Failed to decode batch")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if len(patches) == 0 {
			http.Error(w, "Empty batch", http.StatusBadRequest)
			return
		}

		if err := store.BatchUpdate(r.Context(), patches); err != nil {
			writeStoreError(w, err)
			return
		}
		render.NoContent(w, r)
	}
}

// HandleDelete removes an object.
func HandleDelete(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := store.Delete(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		render.NoContent(w, r)
	}
}

// HandleAcquireLock claims the advisory lock for a user. The store rejects
// the claim with a conflict when a different user already holds it.
func HandleAcquireLock(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req LockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}

		patch := core.Patch{
			LockedBy: core.String(req.UserID),
			LockedAt: core.Int(time.Now().UnixMilli()),
		}
		obj, err := store.Update(r.Context(), id, patch)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		render.JSON(w, r, obj)
	}
}

// HandleReleaseLock clears the lock a user holds. Releasing an unlocked
// object is a no-op; releasing someone else's lock is a conflict.
func HandleReleaseLock(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req LockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}

		current, err := store.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if current.LockedBy == "" {
			render.JSON(w, r, current)
			return
		}
		if current.LockedBy != req.UserID {
			http.Error(w, "Object locked by another user", http.StatusConflict)
			return
		}

		obj, err := store.Update(r.Context(), id, core.Patch{LockedBy: core.String("")})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		render.JSON(w, r, obj)
	}
}

// HandleReleaseExpiredLocks clears locks abandoned for longer than the
// olderThan query parameter (seconds, default 300).
func HandleReleaseExpiredLocks(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		boardID := chi.URLParam(r, "boardId")

		olderThan := 300 * time.Second
		if raw := r.URL.Query().Get("olderThan"); raw != "" {
			secs, err := strconv.Atoi(raw)
			if err != nil || secs < 0 {
				http.Error(w, "Invalid olderThan", http.StatusBadRequest)
				return
			}
			olderThan = time.Duration(secs) * time.Second
		}

		released, err := store.ReleaseExpiredLocks(r.Context(), boardID, olderThan)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to release expired locks")
			http.Error(w, "Failed to release expired locks", http.StatusInternalServerError)
			return
		}
		render.JSON(w, r, ReleaseExpiredResponse{Released: released})
	}
}
