// Package presence keeps a cross-process count of open notification
// sessions per user and announces online/offline transitions.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/chat-service/internal/event"
)

var ErrStoreUnavailable = errors.New("presence store unavailable")

// Store is the shared counter table. Decr must delete the counter once it
// reaches zero or below, atomically with the decrement.
type Store interface {
	Incr(ctx context.Context, userID int64) (int64, error)
	Decr(ctx context.Context, userID int64) (int64, error)
	Online(ctx context.Context) ([]int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

type Tracker struct {
	store Store
	pub   Publisher
}

func NewTracker(store Store, pub Publisher) *Tracker {
	return &Tracker{store: store, pub: pub}
}

// MarkOnline counts a new session and reports whether it is the user's
// first one. Only the first session announces the user as online.
func (t *Tracker) MarkOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := t.store.Incr(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: incr user %d: %v", ErrStoreUnavailable, userID, err)
	}
	if n != 1 {
		return false, nil
	}

	t.announce(ctx, event.Presence{UserID: userID, IsOnline: true})
	return true, nil
}

// MarkOffline drops a session and reports whether it was the last one.
func (t *Tracker) MarkOffline(ctx context.Context, userID int64) (bool, error) {
	n, err := t.store.Decr(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: decr user %d: %v", ErrStoreUnavailable, userID, err)
	}
	if n > 0 {
		return false, nil
	}

	t.announce(ctx, event.Presence{UserID: userID, IsOnline: false})
	return true, nil
}

// Snapshot lists users with at least one session on any instance.
func (t *Tracker) Snapshot(ctx context.Context) ([]int64, error) {
	ids, err := t.store.Online(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// the counter is already committed, a lost announcement is only logged
func (t *Tracker) announce(ctx context.Context, p event.Presence) {
	if err := t.pub.Publish(ctx, p); err != nil {
		slog.Error("presence: publish failed",
			"user", p.UserID, "online", p.IsOnline, "err", err)
	}
}
