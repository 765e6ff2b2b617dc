// Package repository builds the merged post view out of a remote snapshot and
// the local overlays, and routes writes to the right overlay.
package repository

import (
	"context"

	"postkeeper/internal/model"
	"postkeeper/internal/remote"
)

// Source is the remote collection the overlays apply to. FetchOne returns an
// error matching model.ErrNotFound when the id is unknown upstream.
type Source interface {
	FetchAll(ctx context.Context, collection string) ([]remote.Raw, error)
	FetchOne(ctx context.Context, collection string, id int) (remote.Raw, error)
	Create(ctx context.Context, collection string, rec remote.Raw) (remote.Raw, error)
	Replace(ctx context.Context, collection string, id int, rec remote.Raw) (remote.Raw, error)
	Remove(ctx context.Context, collection string, id int) error
}

var _ Source = (*remote.Client)(nil)

type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
	ChangeCleared ChangeType = "cleared"
)

// Change describes one local write. Post is nil for deletes and clears.
type Change struct {
	Type   ChangeType
	PostID int
	Post   *model.Post
}

// Notifier receives a Change after the overlay has been written. Notify must
// not block.
type Notifier interface {
	Notify(Change)
}

// RemoteEcho tells whether a write was mirrored to the remote. Attempted is
// false when the write never left this process (local-origin ids).
type RemoteEcho struct {
	Attempted bool
	Err       error
}

func (e RemoteEcho) Status() string {
	switch {
	case !e.Attempted:
		return "skipped"
	case e.Err != nil:
		return "failed"
	default:
		return "ok"
	}
}

// WriteResult reports the local outcome of a write and, separately, the remote one.
type WriteResult struct {
	Post   model.Post
	Remote RemoteEcho
}
