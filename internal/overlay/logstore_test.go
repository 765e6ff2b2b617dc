package overlay

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"postkeeper/internal/kv"
	"postkeeper/internal/model"
)

// quotaStore rejects every write, like a full browser storage quota.
type quotaStore struct {
	*kv.Memory
}

func (quotaStore) Set(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func TestLogStoreEmptyReads(t *testing.T) {
	ctx := context.Background()
	s := NewLogStore(kv.NewNamespace(kv.NewMemory(), kv.DefaultPrefix))

	assert.Equal(t, s.Created(ctx), []model.Post{})
	assert.Equal(t, s.Updated(ctx), map[int]model.Post{})
	assert.Equal(t, len(s.Deleted(ctx)), 0)
	assert.Equal(t, s.NextLocalID(ctx), 0)
}

func TestLogStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	s := NewLogStore(kv.NewNamespace(mem, kv.DefaultPrefix))

	created := []model.Post{{ID: 10002, UserID: 1, Title: "b"}, {ID: 10001, UserID: 1, Title: "a"}}
	s.SaveCreated(ctx, created)
	s.SaveUpdated(ctx, map[int]model.Post{2: {ID: 2, UserID: 1, Title: "B"}})
	s.SaveDeleted(ctx, NewIDSet(7, 3))
	s.SaveNextLocalID(ctx, 10003)

	assert.Equal(t, s.Created(ctx), created)
	assert.Equal(t, s.Updated(ctx)[2].Title, "B")
	assert.Equal(t, s.Deleted(ctx).Sorted(), []int{3, 7})
	assert.Equal(t, s.NextLocalID(ctx), 10003)

	raw, _, _ := mem.Get(ctx, "jsonplaceholder_deleted_posts")
	assert.Equal(t, string(raw), "[3,7]")
	raw, _, _ = mem.Get(ctx, "jsonplaceholder_updated_posts")
	assert.Equal(t, string(raw), `{"2":{"id":2,"userId":1,"title":"B","body":""}}`)

	snap := s.Snapshot(ctx)
	assert.Equal(t, len(snap.Created), 2)
	assert.Equal(t, snap.Deleted.Has(7), true)

	assert.Equal(t, s.Clear(ctx), nil)
	assert.Equal(t, len(s.Created(ctx)), 0)
	assert.Equal(t, len(s.Deleted(ctx)), 0)
	assert.Equal(t, s.NextLocalID(ctx), 0)
}

func TestLogStoreCorruptValueReadsEmpty(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	_ = mem.Set(ctx, "jsonplaceholder_created_posts", []byte(`{"oops":`))
	_ = mem.Set(ctx, "jsonplaceholder_deleted_posts", []byte(`["x"]`))
	s := NewLogStore(kv.NewNamespace(mem, kv.DefaultPrefix))

	assert.Equal(t, s.Created(ctx), []model.Post{})
	assert.Equal(t, len(s.Deleted(ctx)), 0)
}

func TestLogStoreSaveFailureDoesNotFail(t *testing.T) {
	ctx := context.Background()
	s := NewLogStore(kv.NewNamespace(quotaStore{kv.NewMemory()}, kv.DefaultPrefix))

	s.SaveCreated(ctx, []model.Post{{ID: 10001}})
	s.SaveDeleted(ctx, NewIDSet(1))

	assert.Equal(t, len(s.Created(ctx)), 0)
	assert.Equal(t, len(s.Deleted(ctx)), 0)
}

// downStore fails every read.
type downStore struct {
	*kv.Memory
}

func (downStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestLogStoreLoadReportsStoreFailures(t *testing.T) {
	ctx := context.Background()
	s := NewLogStore(kv.NewNamespace(downStore{kv.NewMemory()}, kv.DefaultPrefix))

	_, err := s.LoadCreated(ctx)
	assert.NotEqual(t, err, nil)
	_, err = s.LoadUpdated(ctx)
	assert.NotEqual(t, err, nil)
	_, err = s.LoadDeleted(ctx)
	assert.NotEqual(t, err, nil)
	_, err = s.LoadNextLocalID(ctx)
	assert.NotEqual(t, err, nil)

	// the merged view still degrades to empty
	assert.Equal(t, s.Created(ctx), []model.Post{})
	assert.Equal(t, len(s.Snapshot(ctx).Deleted), 0)
}

func TestLogStoreLoadTreatsCorruptValueAsEmpty(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	_ = mem.Set(ctx, "jsonplaceholder_updated_posts", []byte(`[1,2`))
	s := NewLogStore(kv.NewNamespace(mem, kv.DefaultPrefix))

	updated, err := s.LoadUpdated(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, updated, map[int]model.Post{})
	created, err := s.LoadCreated(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, created, []model.Post{})
}
