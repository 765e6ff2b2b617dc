package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
	"golang.org/x/sync/errgroup"

	"postkeeper/internal/engine"
	"postkeeper/internal/kv"
	"postkeeper/internal/model"
	"postkeeper/internal/overlay"
	"postkeeper/internal/query"
)

type fixture struct {
	repo     *PostRepository
	logs     *overlay.LogStore
	source   *fakeSource
	notifier *recordingNotifier
}

func newFixture(t *testing.T, store kv.Store, posts ...model.Post) *fixture {
	t.Helper()
	logs := overlay.NewLogStore(kv.NewNamespace(store, kv.DefaultPrefix))
	src := newFakeSource(posts...)
	n := &recordingNotifier{}
	return &fixture{
		repo:     NewPostRepository(src, logs, Options{Notifier: n}),
		logs:     logs,
		source:   src,
		notifier: n,
	}
}

func remotePosts(n int) []model.Post {
	out := make([]model.Post, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.Post{ID: i, UserID: 1, Title: fmt.Sprintf("remote %d", i), Body: "body"})
	}
	return out
}

func firstPage() query.Query {
	return query.Query{Pagination: query.Pagination{Page: 1, Limit: 100}}
}

func viewIDs(t *testing.T, r *PostRepository) []int {
	t.Helper()
	page, err := r.FindAll(context.Background(), firstPage())
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	out := make([]int, 0, len(page.Data))
	for _, p := range page.Data {
		out = append(out, p.ID)
	}
	return out
}

func strptr(s string) *string { return &s }

func TestCreatePrependsLocalPost(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(2)...)
	ctx := context.Background()

	res, err := f.repo.Create(ctx, model.CreatePostInput{UserID: 1, Title: "A"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	assert.Equal(t, res.Post, model.Post{ID: 10001, UserID: 1, Title: "A"})
	assert.Equal(t, res.Remote.Status(), "ok")

	page, err := f.repo.FindAll(ctx, firstPage())
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	assert.Equal(t, len(page.Data), 3)
	assert.Equal(t, page.Data[0], model.Post{ID: 10001, UserID: 1, Title: "A"})
	assert.Equal(t, page.Data[1].ID, 1)
	assert.Equal(t, page.Data[2].ID, 2)

	_, err = f.repo.Create(ctx, model.CreatePostInput{UserID: 1, Title: "B"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	assert.Equal(t, viewIDs(t, f.repo), []int{10002, 10001, 1, 2})
	assert.Equal(t, f.notifier.Types(), []ChangeType{ChangeCreated, ChangeCreated})
}

func TestUpdateRemotePostReplacesInPlace(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(2)...)
	ctx := context.Background()

	res, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 2, Title: strptr("B")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	assert.Equal(t, res.Post, model.Post{ID: 2, UserID: 1, Title: "B", Body: "body"})
	assert.Equal(t, res.Remote.Status(), "ok")

	page, err := f.repo.FindAll(ctx, firstPage())
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	assert.Equal(t, len(page.Data), 2)
	assert.Equal(t, page.Data[0].ID, 1)
	assert.Equal(t, page.Data[1], res.Post)

	updated := f.logs.Updated(ctx)
	assert.Equal(t, len(updated), 1)
	assert.Equal(t, updated[2].Title, "B")
}

func TestDeleteRemotePostHidesIt(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(2)...)
	ctx := context.Background()

	if _, err := f.repo.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	assert.Equal(t, viewIDs(t, f.repo), []int{2})
	assert.Equal(t, f.logs.Deleted(ctx).Sorted(), []int{1})

	_, found, err := f.repo.FindByID(ctx, 1)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	assert.Equal(t, found, false)
}

func TestCreateThenDeleteLeavesNoTrace(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(2)...)
	ctx := context.Background()

	res, err := f.repo.Create(ctx, model.CreatePostInput{UserID: 1, Title: "A"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	del, err := f.repo.Delete(ctx, res.Post.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	assert.Equal(t, del.Remote.Status(), "skipped")

	assert.Equal(t, viewIDs(t, f.repo), []int{1, 2})
	assert.Equal(t, len(f.logs.Created(ctx)), 0)
	assert.Equal(t, len(f.logs.Deleted(ctx)), 0)
	for _, call := range f.source.Calls() {
		if call == "DELETE posts" {
			t.Fatalf("local delete reached the remote: %v", f.source.Calls())
		}
	}
}

func TestFindAllSecondPageDescending(t *testing.T) {
	posts := remotePosts(20)
	for i := 15; i < 20; i++ {
		posts[i].UserID = 2
	}
	f := newFixture(t, kv.NewMemory(), posts...)

	sortByID, err := query.NewSortCriteria("id", query.Desc)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	byUser, err := query.NewFilterCriteria("userId", query.Equals, "1")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	page, err := f.repo.FindAll(context.Background(), query.Query{
		Pagination: query.Pagination{Page: 2, Limit: 10},
		Sort:       &sortByID,
		Filters:    []query.FilterCriteria{byUser},
	})
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	got := make([]int, 0, len(page.Data))
	for _, p := range page.Data {
		got = append(got, p.ID)
	}
	assert.Equal(t, got, []int{5, 4, 3, 2, 1})
	assert.Equal(t, page.Total, 15)
	assert.Equal(t, page.TotalPages, 2)
	assert.Equal(t, page.Page, 2)
}

func TestFindAllErrors(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(2)...)
	ctx := context.Background()

	bogus, _ := query.NewSortCriteria("likes", query.Asc)
	_, err := f.repo.FindAll(ctx, query.Query{Pagination: query.Pagination{Page: 1, Limit: 10}, Sort: &bogus})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = f.repo.FindAll(ctx, query.Query{})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for zero pagination, got %v", err)
	}
	assert.Equal(t, len(f.source.Calls()), 0)

	f.source.SetFailReads(true)
	_, err = f.repo.FindAll(ctx, firstPage())
	if !errors.Is(err, model.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestFindAllKeepsRemoteIDsAboveThreshold(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), model.Post{ID: 1}, model.Post{ID: 10005})
	assert.Equal(t, viewIDs(t, f.repo), []int{1, 10005})
}

func TestFindByIDResolution(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(3)...)
	ctx := context.Background()

	if _, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 3, Body: strptr("edited")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	created, err := f.repo.Create(ctx, model.CreatePostInput{UserID: 4, Title: "local"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	f.source.SetFailReads(true)
	before := len(f.source.Calls())

	p, found, err := f.repo.FindByID(ctx, 3)
	assert.Equal(t, err, nil)
	assert.Equal(t, found, true)
	assert.Equal(t, p.Body, "edited")

	p, found, _ = f.repo.FindByID(ctx, created.Post.ID)
	assert.Equal(t, found, true)
	assert.Equal(t, p, created.Post)

	_, found, _ = f.repo.FindByID(ctx, 10999)
	assert.Equal(t, found, false)
	assert.Equal(t, len(f.source.Calls()), before)

	// remote failures read as absent
	_, found, err = f.repo.FindByID(ctx, 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, found, false)

	f.source.SetFailReads(false)
	p, found, _ = f.repo.FindByID(ctx, 1)
	assert.Equal(t, found, true)
	assert.Equal(t, p.Title, "remote 1")

	_, found, _ = f.repo.FindByID(ctx, 99)
	assert.Equal(t, found, false)
}

func TestRemoteWriteFailuresKeepLocalChanges(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(3)...)
	f.source.SetFailWrites(true)
	ctx := context.Background()

	c, err := f.repo.Create(ctx, model.CreatePostInput{UserID: 1, Title: "A"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	assert.Equal(t, c.Remote.Status(), "failed")
	if !errors.Is(c.Remote.Err, model.ErrRemote) {
		t.Fatalf("expected remote error in echo, got %v", c.Remote.Err)
	}

	u, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 2, Title: strptr("B")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	assert.Equal(t, u.Remote.Status(), "failed")

	d, err := f.repo.Delete(ctx, 3)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	assert.Equal(t, d.Remote.Status(), "failed")

	assert.Equal(t, viewIDs(t, f.repo), []int{10001, 1, 2})
}

func TestUpdateMissingPost(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(1)...)
	ctx := context.Background()

	for _, id := range []int{42, 10001} {
		_, err := f.repo.Update(ctx, model.UpdatePostInput{ID: id, Title: strptr("x")})
		var nf *model.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("id %d: expected NotFoundError, got %v", id, err)
		}
		assert.Equal(t, nf.ID, id)
	}

	if _, err := f.repo.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 1, Title: strptr("x")})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("updating a deleted post: expected not found, got %v", err)
	}
	assert.Equal(t, len(f.logs.Updated(ctx)), 0)
}

func TestUpdateLocalPostRewritesCreated(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(1)...)
	ctx := context.Background()

	first, _ := f.repo.Create(ctx, model.CreatePostInput{UserID: 1, Title: "one", Body: "b1"})
	second, _ := f.repo.Create(ctx, model.CreatePostInput{UserID: 1, Title: "two", Body: "b2"})

	userID := 7
	res, err := f.repo.Update(ctx, model.UpdatePostInput{ID: first.Post.ID, UserID: &userID, Title: strptr("uno")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	assert.Equal(t, res.Remote.Status(), "skipped")
	assert.Equal(t, res.Post, model.Post{ID: first.Post.ID, UserID: 7, Title: "uno", Body: "b1"})

	created := f.logs.Created(ctx)
	assert.Equal(t, created, []model.Post{second.Post, res.Post})
	assert.Equal(t, len(f.logs.Updated(ctx)), 0)
	for _, call := range f.source.Calls() {
		if call == "PUT posts" {
			t.Fatalf("local update reached the remote: %v", f.source.Calls())
		}
	}
}

func TestDeleteIsIdempotentAndDropsPendingUpdate(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(2)...)
	ctx := context.Background()

	if _, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 2, Title: strptr("B")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.repo.Delete(ctx, 2); err != nil {
			t.Fatalf("Delete #%d: %v", i, err)
		}
	}
	assert.Equal(t, f.logs.Deleted(ctx).Sorted(), []int{2})
	assert.Equal(t, len(f.logs.Updated(ctx)), 0)
	assert.Equal(t, viewIDs(t, f.repo), []int{1})

	// an unknown local id is a no-op
	res, err := f.repo.Delete(ctx, 12345)
	assert.Equal(t, err, nil)
	assert.Equal(t, res.Remote.Status(), "skipped")
	assert.Equal(t, len(f.logs.Deleted(ctx)), 1)
}

func TestLocalIDsAreNeverReused(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	ctx := context.Background()

	a, _ := f.repo.Create(ctx, model.CreatePostInput{Title: "a"})
	if _, err := f.repo.Delete(ctx, a.Post.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	b, _ := f.repo.Create(ctx, model.CreatePostInput{Title: "b"})
	assert.Equal(t, a.Post.ID, 10001)
	assert.Equal(t, b.Post.ID, 10002)
	assert.Equal(t, f.logs.NextLocalID(ctx), 10003)
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails every read while down is set.
type flakyStore struct {
	kv.Store

	mu   sync.Mutex
	down bool
}

func (s *flakyStore) SetDown(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = v
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		return nil, false, errStoreDown
	}
	return s.Store.Get(ctx, key)
}

func TestStoreReadFailureLeavesOverlaysIntact(t *testing.T) {
	store := &flakyStore{Store: kv.NewMemory()}
	f := newFixture(t, store, remotePosts(3)...)
	ctx := context.Background()

	for _, title := range []string{"A", "B"} {
		if _, err := f.repo.Create(ctx, model.CreatePostInput{UserID: 1, Title: title, Body: "b"}); err != nil {
			t.Fatalf("Create %s: %v", title, err)
		}
	}
	if _, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 2, Title: strptr("edited")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := f.repo.Delete(ctx, 3); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	assert.Equal(t, viewIDs(t, f.repo), []int{10002, 10001, 1, 2})

	writes := map[string]func() error{
		"create": func() error {
			_, err := f.repo.Create(ctx, model.CreatePostInput{UserID: 1, Title: "C", Body: "b"})
			return err
		},
		"update local": func() error {
			_, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 10001, Title: strptr("x")})
			return err
		},
		"update remote": func() error {
			_, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 1, Title: strptr("x")})
			return err
		},
		"delete local": func() error {
			_, err := f.repo.Delete(ctx, 10002)
			return err
		},
		"delete remote": func() error {
			_, err := f.repo.Delete(ctx, 1)
			return err
		},
	}
	for name, write := range writes {
		store.SetDown(true)
		err := write()
		store.SetDown(false)
		if err == nil {
			t.Fatalf("%s: expected an error while the store is unreadable", name)
		}
	}

	assert.Equal(t, viewIDs(t, f.repo), []int{10002, 10001, 1, 2})
	assert.Equal(t, len(f.logs.Created(ctx)), 2)
	assert.Equal(t, f.logs.NextLocalID(ctx), 10003)
	assert.Equal(t, f.logs.Deleted(ctx).Sorted(), []int{3})
	assert.Equal(t, f.logs.Updated(ctx)[2].Title, "edited")
	_, touched := f.logs.Updated(ctx)[1]
	assert.Equal(t, touched, false)

	res, err := f.repo.Create(ctx, model.CreatePostInput{UserID: 1, Title: "C", Body: "b"})
	if err != nil {
		t.Fatalf("Create after recovery: %v", err)
	}
	assert.Equal(t, res.Post.ID, 10003)
}

func TestStoreReadFailureWrapsCause(t *testing.T) {
	store := &flakyStore{Store: kv.NewMemory()}
	f := newFixture(t, store)
	store.SetDown(true)

	_, err := f.repo.Create(context.Background(), model.CreatePostInput{UserID: 1, Title: "A", Body: "b"})
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the store error to be wrapped, got %v", err)
	}
	store.SetDown(false)
	assert.Equal(t, len(f.logs.Created(context.Background())), 0)
}

func TestLocalIDCounterSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := engine.CommitLogCfg{Path: filepath.Join(t.TempDir(), "overlay.log")}

	store, err := engine.OpenLogStore(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenLogStore: %v", err)
	}
	f := newFixture(t, store, remotePosts(1)...)
	for _, title := range []string{"a", "b"} {
		res, err := f.repo.Create(ctx, model.CreatePostInput{Title: title})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := f.repo.Delete(ctx, res.Post.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}
	if _, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 1, Title: strptr("kept")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := engine.OpenLogStore(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	g := newFixture(t, reopened, remotePosts(1)...)

	res, err := g.repo.Create(ctx, model.CreatePostInput{Title: "c"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	assert.Equal(t, res.Post.ID, 10003)

	p, found, _ := g.repo.FindByID(ctx, 1)
	assert.Equal(t, found, true)
	assert.Equal(t, p.Title, "kept")
}

func TestClearLocalResetsOverlays(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(3)...)
	ctx := context.Background()

	_, _ = f.repo.Create(ctx, model.CreatePostInput{Title: "a"})
	_, _ = f.repo.Update(ctx, model.UpdatePostInput{ID: 1, Title: strptr("x")})
	_, _ = f.repo.Delete(ctx, 2)

	if err := f.repo.ClearLocal(ctx); err != nil {
		t.Fatalf("ClearLocal: %v", err)
	}
	assert.Equal(t, viewIDs(t, f.repo), []int{1, 2, 3})
	p, _, _ := f.repo.FindByID(ctx, 1)
	assert.Equal(t, p.Title, "remote 1")

	res, _ := f.repo.Create(ctx, model.CreatePostInput{Title: "again"})
	assert.Equal(t, res.Post.ID, 10001)
	assert.Equal(t, f.notifier.Types(), []ChangeType{
		ChangeCreated, ChangeUpdated, ChangeDeleted, ChangeCleared, ChangeCreated,
	})
}

func TestCustomThreshold(t *testing.T) {
	logs := overlay.NewLogStore(kv.NewNamespace(kv.NewMemory(), "t_"))
	repo := NewPostRepository(newFakeSource(), logs, Options{LocalIDThreshold: 100})
	res, err := repo.Create(context.Background(), model.CreatePostInput{Title: "a"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	assert.Equal(t, res.Post.ID, 101)
	assert.Equal(t, repo.IsLocal(100), false)
	assert.Equal(t, repo.IsLocal(101), true)
}

func TestConcurrentCreatesGetDistinctIDs(t *testing.T) {
	f := newFixture(t, kv.NewMemory())
	ctx := context.Background()

	const n = 50
	ids := make([]int, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := f.repo.Create(ctx, model.CreatePostInput{Title: fmt.Sprintf("p%d", i)})
			ids[i] = res.Post.ID
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("create: %v", err)
	}

	seen := map[int]bool{}
	for _, id := range ids {
		if id <= DefaultLocalIDThreshold || seen[id] {
			t.Fatalf("bad or duplicate id %d in %v", id, ids)
		}
		seen[id] = true
	}
	assert.Equal(t, len(f.logs.Created(ctx)), n)
}

func TestConcurrentUpdatesLastWriteWins(t *testing.T) {
	f := newFixture(t, kv.NewMemory(), remotePosts(1)...)
	ctx := context.Background()

	const n = 20
	titles := map[string]bool{}
	var g errgroup.Group
	for i := 0; i < n; i++ {
		title := fmt.Sprintf("edit %d", i)
		titles[title] = true
		g.Go(func() error {
			_, err := f.repo.Update(ctx, model.UpdatePostInput{ID: 1, Title: &title})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("update: %v", err)
	}

	updated := f.logs.Updated(ctx)
	assert.Equal(t, len(updated), 1)
	final := updated[1]
	if !titles[final.Title] {
		t.Fatalf("final title %q was never written", final.Title)
	}
	assert.Equal(t, final.Body, "body")

	p, _, _ := f.repo.FindByID(ctx, 1)
	assert.Equal(t, p, final)
}
