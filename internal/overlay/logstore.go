// Package overlay keeps the local mutation logs (created, updated and deleted
// posts) and merges them over a remote snapshot.
package overlay

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"

	"postkeeper/internal/kv"
	"postkeeper/internal/model"
)

const (
	createdKey = "created_posts"
	updatedKey = "updated_posts"
	deletedKey = "deleted_posts"
	nextIDKey  = "next_local_id"
)

// IDSet is the set of suppressed remote ids.
type IDSet map[int]struct{}

func NewIDSet(ids ...int) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Snapshot is the content of the three overlays read together.
type Snapshot struct {
	Created []model.Post
	Updated map[int]model.Post
	Deleted IDSet
}

// LogStore persists each overlay under its own key.
//
// There are two read paths. Created, Updated, Deleted and NextLocalID serve
// the merged view and never fail: a missing, undecodable or unreadable value
// reads as empty. The Load variants serve read-modify-write cycles; they
// still read a missing or undecodable value as empty, but return store
// failures so that the caller does not save over overlays it could not see.
// Saves never fail; a persistence error is logged and the write is lost.
type LogStore struct {
	ns *kv.Namespace
}

func NewLogStore(ns *kv.Namespace) *LogStore {
	return &LogStore{ns: ns}
}

// load decodes the value under key. found is false when nothing usable is stored.
func load[T any](ctx context.Context, s *LogStore, key string) (v T, found bool, err error) {
	found, err = s.ns.GetJSON(ctx, key, &v)
	switch {
	case errors.Is(err, kv.ErrUndecodable):
		glog.Errorf("overlay %s is undecodable, treating as empty: %v", key, err)
		var zero T
		return zero, false, nil
	case err != nil:
		return v, false, fmt.Errorf("read overlay %s: %w", key, err)
	}
	return v, found, nil
}

func (s *LogStore) save(ctx context.Context, key string, value any) {
	if err := s.ns.SetJSON(ctx, key, value); err != nil {
		glog.Errorf("saving overlay %s, change not persisted: %v", key, err)
	}
}

// LoadCreated returns the locally created posts, newest first.
func (s *LogStore) LoadCreated(ctx context.Context) ([]model.Post, error) {
	created, _, err := load[[]model.Post](ctx, s, createdKey)
	if err != nil {
		return nil, err
	}
	if created == nil {
		created = []model.Post{}
	}
	return created, nil
}

func (s *LogStore) LoadUpdated(ctx context.Context) (map[int]model.Post, error) {
	updated, _, err := load[map[int]model.Post](ctx, s, updatedKey)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		updated = map[int]model.Post{}
	}
	return updated, nil
}

func (s *LogStore) LoadDeleted(ctx context.Context) (IDSet, error) {
	ids, _, err := load[[]int](ctx, s, deletedKey)
	if err != nil {
		return nil, err
	}
	return NewIDSet(ids...), nil
}

// LoadNextLocalID returns the persisted counter mark, 0 when none was saved.
func (s *LogStore) LoadNextLocalID(ctx context.Context) (int, error) {
	next, _, err := load[int](ctx, s, nextIDKey)
	return next, err
}

func (s *LogStore) Created(ctx context.Context) []model.Post {
	created, err := s.LoadCreated(ctx)
	if err != nil {
		glog.Errorf("%v, treating as empty", err)
		return []model.Post{}
	}
	return created
}

func (s *LogStore) Updated(ctx context.Context) map[int]model.Post {
	updated, err := s.LoadUpdated(ctx)
	if err != nil {
		glog.Errorf("%v, treating as empty", err)
		return map[int]model.Post{}
	}
	return updated
}

func (s *LogStore) Deleted(ctx context.Context) IDSet {
	deleted, err := s.LoadDeleted(ctx)
	if err != nil {
		glog.Errorf("%v, treating as empty", err)
		return IDSet{}
	}
	return deleted
}

func (s *LogStore) NextLocalID(ctx context.Context) int {
	next, err := s.LoadNextLocalID(ctx)
	if err != nil {
		glog.Errorf("%v, treating as unset", err)
		return 0
	}
	return next
}

func (s *LogStore) Snapshot(ctx context.Context) Snapshot {
	return Snapshot{
		Created: s.Created(ctx),
		Updated: s.Updated(ctx),
		Deleted: s.Deleted(ctx),
	}
}

func (s *LogStore) SaveCreated(ctx context.Context, created []model.Post) {
	if created == nil {
		created = []model.Post{}
	}
	s.save(ctx, createdKey, created)
}

func (s *LogStore) SaveUpdated(ctx context.Context, updated map[int]model.Post) {
	if updated == nil {
		updated = map[int]model.Post{}
	}
	s.save(ctx, updatedKey, updated)
}

func (s *LogStore) SaveDeleted(ctx context.Context, deleted IDSet) {
	s.save(ctx, deletedKey, deleted.Sorted())
}

func (s *LogStore) SaveNextLocalID(ctx context.Context, next int) {
	s.save(ctx, nextIDKey, next)
}

// Clear drops all overlays and the counter mark, reverting the merged view
// to the bare remote snapshot.
func (s *LogStore) Clear(ctx context.Context) error {
	return s.ns.Clear(ctx)
}
