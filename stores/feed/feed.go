// Package feed implements the change-feed fan-out shared by the store
// backends. Events for a board are delivered to every subscriber of that
// board, including the writer, in write order.
package feed

import (
	"sync"

	"sketchd/core"
)

type Feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(core.ChangeEvent)
}

func New() *Feed {
	return &Feed{subs: make(map[string]map[int]func(core.ChangeEvent))}
}

// Subscribe registers fn for every event on boardID and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (f *Feed) Subscribe(boardID string, fn func(core.ChangeEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++

	board, ok := f.subs[boardID]
	if !ok {
		board = make(map[int]func(core.ChangeEvent))
		f.subs[boardID] = board
	}
	board[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if board, ok := f.subs[boardID]; ok {
			delete(board, id)
			if len(board) == 0 {
				delete(f.subs, boardID)
			}
		}
	}
}

// Publish delivers ev synchronously to all subscribers of its board.
// Callers serialize writes per store, which preserves per-object event
// ordering. Callbacks must not block and must not call back into the store.
func (f *Feed) Publish(ev core.ChangeEvent) {
	f.mu.Lock()
	fns := make([]func(core.ChangeEvent), 0, len(f.subs[ev.BoardID]))
	for _, fn := range f.subs[ev.BoardID] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// SubscriberCount returns how many callbacks are registered for boardID.
func (f *Feed) SubscriberCount(boardID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[boardID])
}
