package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	stdlog "log"
	"sync"
	"time"

	"sketchd/core"
	"sketchd/stores/feed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// objectStore persists canvas objects in a single sqlite table. Writes are
// serialized under writeMu so the change feed observes them in commit order;
// BatchUpdate runs inside one transaction for all-or-nothing visibility.
type objectStore struct {
	db      *sql.DB
	writeMu sync.Mutex
	feed    *feed.Feed
}

func NewStore(dataSourceName string) *objectStore {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		stdlog.Fatal(err)
	}

	schema := `CREATE TABLE IF NOT EXISTS objects (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		type TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		width REAL NOT NULL DEFAULT 0,
		height REAL NOT NULL DEFAULT 0,
		radius REAL NOT NULL DEFAULT 0,
		rotation REAL NOT NULL DEFAULT 0,
		color TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		font_family TEXT NOT NULL DEFAULT '',
		font_size REAL NOT NULL DEFAULT 0,
		font_weight TEXT NOT NULL DEFAULT '',
		font_style TEXT NOT NULL DEFAULT '',
		text_decoration TEXT NOT NULL DEFAULT '',
		text_align TEXT NOT NULL DEFAULT '',
		text_color TEXT NOT NULL DEFAULT '',
		background_color TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		modified_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		locked_by TEXT NOT NULL DEFAULT '',
		locked_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_objects_board ON objects(board_id);`
	if _, err := db.Exec(schema); err != nil {
		stdlog.Fatal(err)
	}

	return &objectStore{db: db, feed: feed.New()}
}

const objectColumns = `id, board_id, type, x, y, width, height, radius, rotation,
	color, text, font_family, font_size, font_weight, font_style,
	text_decoration, text_align, text_color, background_color,
	created_by, modified_by, version, locked_by, locked_at`

func scanObject(row interface{ Scan(...any) error }) (*core.CanvasObject, error) {
	var o core.CanvasObject
	err := row.Scan(
		&o.ID, &o.BoardID, &o.Type, &o.X, &o.Y, &o.Width, &o.Height, &o.Radius, &o.Rotation,
		&o.Color, &o.Text, &o.FontFamily, &o.FontSize, &o.FontWeight, &o.FontStyle,
		&o.TextDecoration, &o.TextAlign, &o.TextColor, &o.BackgroundColor,
		&o.CreatedBy, &o.ModifiedBy, &o.Version, &o.LockedBy, &o.LockedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertObject(ctx context.Context, ex execer, o *core.CanvasObject) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO objects (`+objectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			board_id=excluded.board_id, type=excluded.type,
			x=excluded.x, y=excluded.y, width=excluded.width, height=excluded.height,
			radius=excluded.radius, rotation=excluded.rotation,
			color=excluded.color, text=excluded.text,
			font_family=excluded.font_family, font_size=excluded.font_size,
			font_weight=excluded.font_weight, font_style=excluded.font_style,
			text_decoration=excluded.text_decoration, text_align=excluded.text_align,
			text_color=excluded.text_color, background_color=excluded.background_color,
			created_by=excluded.created_by, modified_by=excluded.modified_by,
			version=excluded.version, locked_by=excluded.locked_by, locked_at=excluded.locked_at`,
		o.ID, o.BoardID, o.Type, o.X, o.Y, o.Width, o.Height, o.Radius, o.Rotation,
		o.Color, o.Text, o.FontFamily, o.FontSize, o.FontWeight, o.FontStyle,
		o.TextDecoration, o.TextAlign, o.TextColor, o.BackgroundColor,
		o.CreatedBy, o.ModifiedBy, o.Version, o.LockedBy, o.LockedAt)
	return err
}

func (s *objectStore) fetchObject(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) (*core.CanvasObject, error) {
	obj, err := scanObject(q.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("object %s: %w", id, core.ErrNotFound)
	}
	return obj, err
}

func (s *objectStore) Create(ctx context.Context, object *core.CanvasObject) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	obj := object.Clone()
	obj.ID = ulid.Make().String()
	obj.Version = 1
	obj.Sanitize()

	if err := upsertObject(ctx, s.db, obj); err != nil {
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
	return s.fetchObject(ctx, s.db, id)
}

func (s *objectStore) List(ctx context.Context, boardID string) ([]*core.CanvasObject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE board_id = ? ORDER BY id`, boardID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close object rows")
		}
	}()

	objects := make([]*core.CanvasObject, 0)
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

func (s *objectStore) Update(ctx context.Context, id string, patch core.Patch) (*core.CanvasObject, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	obj, err := s.fetchObject(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := core.CheckLockClaim(obj, patch); err != nil {
		return nil, err
	}

	next := obj.Clone()
	next.Apply(patch)
	next.Version = obj.Version + 1
	if err := upsertObject(ctx, s.db, next); err != nil {
		logrus.WithError(err).Error("Failed to update object")
		return nil, err
	}

	s.feed.Publish(core.ChangeEvent{Type: core.EventModified, ID: id, BoardID: next.BoardID, Object: next.Clone()})
	return next.Clone(), nil
}

func (s *objectStore) BatchUpdate(ctx context.Context, patches map[string]core.Patch) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	staged := make([]*core.CanvasObject, 0, len(patches))
	for id, patch := range patches {
		obj, err := scanObject(tx.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id))
		if err == sql.ErrNoRows {
			_ = tx.Rollback()
			return fmt.Errorf("object %s: %w", id, core.ErrNotFound)
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := core.CheckLockClaim(obj, patch); err != nil {
			_ = tx.Rollback()
			return err
		}
		next := obj.Clone()
		next.Apply(patch)
		next.Version = obj.Version + 1
		if err := upsertObject(ctx, tx, next); err != nil {
			_ = tx.Rollback()
			return err
		}
		staged = append(staged, next)
	}

	if err := tx.Commit(); err != nil {
		return err
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

	obj, err := s.fetchObject(ctx, s.db, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id); err != nil {
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

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `SELECT `+objectColumns+` FROM objects
		WHERE board_id = ? AND locked_by != '' AND locked_at <= ?`, boardID, cutoff)
	if err != nil {
		return 0, err
	}
	expired := make([]*core.CanvasObject, 0)
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			_ = rows.Close()
			return 0, err
		}
		expired = append(expired, obj)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	for _, obj := range expired {
		next := obj.Clone()
		next.LockedBy = ""
		next.LockedAt = 0
		next.Version = obj.Version + 1
		if err := upsertObject(ctx, s.db, next); err != nil {
			return 0, err
		}
		s.feed.Publish(core.ChangeEvent{Type: core.EventModified, ID: next.ID, BoardID: next.BoardID, Object: next.Clone()})
	}

	if len(expired) > 0 {
		logrus.WithFields(logrus.Fields{
			"board_id": boardID,
			"released": len(expired),
		}).Info("Expired locks released")
	}
	return len(expired), nil
}
