package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/apapsch/go-jsonmerge/v2"
	"github.com/golang/glog"
	"golang.org/x/exp/slices"
	"golang.org/x/text/language"

	"postkeeper/internal/model"
	"postkeeper/internal/overlay"
	"postkeeper/internal/query"
	"postkeeper/internal/remote"
)

// DefaultLocalIDThreshold splits the id space: ids above it were assigned here.
const DefaultLocalIDThreshold = 10000

type Options struct {
	LocalIDThreshold int
	Collation        language.Tag
	Notifier         Notifier
}

// PostRepository never caches the merged view: every read fetches the
// remote snapshot and merges the overlays again.
//
// mu serialises read-modify-write cycles on the overlays. It is never held
// across a remote call, so two writes to one id race only there and the last
// overlay write wins.
type PostRepository struct {
	source    Source
	logs      *overlay.LogStore
	pipeline  *query.Pipeline[model.Post]
	threshold int
	notifier  Notifier

	mu sync.Mutex
}

func NewPostRepository(source Source, logs *overlay.LogStore, opts Options) *PostRepository {
	if opts.LocalIDThreshold <= 0 {
		opts.LocalIDThreshold = DefaultLocalIDThreshold
	}
	if opts.Collation == language.Und {
		opts.Collation = language.English
	}
	return &PostRepository{
		source:    source,
		logs:      logs,
		pipeline:  query.NewPipeline(query.PostFields, opts.Collation),
		threshold: opts.LocalIDThreshold,
		notifier:  opts.Notifier,
	}
}

// IsLocal reports whether id belongs to the local-origin range.
func (r *PostRepository) IsLocal(id int) bool {
	return id > r.threshold
}

func (r *PostRepository) Fields() query.Registry[model.Post] {
	return r.pipeline.Fields()
}

func (r *PostRepository) snapshot(ctx context.Context) overlay.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs.Snapshot(ctx)
}

func (r *PostRepository) FindAll(ctx context.Context, q query.Query) (query.Page[model.Post], error) {
	if _, err := query.NewPagination(q.Pagination.Page, q.Pagination.Limit); err != nil {
		return query.Page[model.Post]{}, err
	}
	if err := r.pipeline.Fields().Check(q); err != nil {
		return query.Page[model.Post]{}, err
	}

	raw, err := r.source.FetchAll(ctx, remote.PostsCollection)
	if err != nil {
		return query.Page[model.Post]{}, fmt.Errorf("fetch posts: %w", err)
	}
	fetched := remote.PostsFromRaw(raw)
	r.reportCollisions(fetched)

	merged := overlay.Merge(fetched, r.snapshot(ctx))
	return r.pipeline.Run(merged, q), nil
}

// reportCollisions warns about remote ids that fall in the local range; such
// records are kept in the view but may shadow or be shadowed by local ones.
func (r *PostRepository) reportCollisions(posts []model.Post) {
	n := 0
	for _, p := range posts {
		if r.IsLocal(p.ID) {
			n++
		}
	}
	if n > 0 {
		glog.Warningf("remote returned %d posts with ids above the local threshold %d; they may collide with local posts", n, r.threshold)
	}
}

// FindByID resolves id against deleted, updated and created overlays before
// asking the remote. A remote failure reads as absent.
func (r *PostRepository) FindByID(ctx context.Context, id int) (model.Post, bool, error) {
	snap := r.snapshot(ctx)
	if snap.Deleted.Has(id) {
		return model.Post{}, false, nil
	}
	if p, ok := snap.Updated[id]; ok {
		return p, true, nil
	}
	if idx := indexOf(snap.Created, id); idx >= 0 {
		return snap.Created[idx], true, nil
	}
	if r.IsLocal(id) {
		return model.Post{}, false, nil
	}

	raw, err := r.source.FetchOne(ctx, remote.PostsCollection, id)
	if err != nil {
		if ctx.Err() != nil {
			return model.Post{}, false, ctx.Err()
		}
		if !errors.Is(err, model.ErrNotFound) {
			glog.Warningf("fetching post %d, treating as absent: %v", id, err)
		}
		return model.Post{}, false, nil
	}
	return remote.PostFromRaw(raw), true, nil
}

func (r *PostRepository) Create(ctx context.Context, in model.CreatePostInput) (WriteResult, error) {
	echo := r.echo("create", 0, func() error {
		_, err := r.source.Create(ctx, remote.PostsCollection, remote.PostToRaw(model.Post{
			UserID: in.UserID,
			Title:  in.Title,
			Body:   in.Body,
		}))
		return err
	})

	r.mu.Lock()
	created, err := r.logs.LoadCreated(ctx)
	if err != nil {
		r.mu.Unlock()
		return WriteResult{}, fmt.Errorf("create post: %w", err)
	}
	mark, err := r.logs.LoadNextLocalID(ctx)
	if err != nil {
		r.mu.Unlock()
		return WriteResult{}, fmt.Errorf("create post: %w", err)
	}
	post := model.Post{
		ID:     r.nextLocalID(mark, created),
		UserID: in.UserID,
		Title:  in.Title,
		Body:   in.Body,
	}
	created = append([]model.Post{post}, created...)
	r.logs.SaveCreated(ctx, created)
	r.logs.SaveNextLocalID(ctx, post.ID+1)
	r.mu.Unlock()

	r.notify(Change{Type: ChangeCreated, PostID: post.ID, Post: &post})
	return WriteResult{Post: post, Remote: echo}, nil
}

// nextLocalID never hands out an id at or below the threshold, below the
// persisted mark, or already present in created.
func (r *PostRepository) nextLocalID(mark int, created []model.Post) int {
	next := max(mark, r.threshold+1)
	for _, p := range created {
		next = max(next, p.ID+1)
	}
	return next
}

func (r *PostRepository) Update(ctx context.Context, in model.UpdatePostInput) (WriteResult, error) {
	current, found, err := r.FindByID(ctx, in.ID)
	if err != nil {
		return WriteResult{}, err
	}
	if !found {
		return WriteResult{}, &model.NotFoundError{Kind: "post", ID: in.ID}
	}
	next, err := applyUpdate(current, in)
	if err != nil {
		return WriteResult{}, err
	}

	if r.IsLocal(in.ID) {
		r.mu.Lock()
		created, err := r.logs.LoadCreated(ctx)
		if err != nil {
			r.mu.Unlock()
			return WriteResult{}, fmt.Errorf("update post %d: %w", in.ID, err)
		}
		idx := indexOf(created, in.ID)
		if idx < 0 {
			r.mu.Unlock()
			return WriteResult{}, &model.NotFoundError{Kind: "post", ID: in.ID}
		}
		created[idx] = next
		r.logs.SaveCreated(ctx, created)
		r.mu.Unlock()

		r.notify(Change{Type: ChangeUpdated, PostID: next.ID, Post: &next})
		return WriteResult{Post: next}, nil
	}

	echo := r.echo("update", in.ID, func() error {
		rec := remote.PostToRaw(next)
		delete(rec, "id")
		_, err := r.source.Replace(ctx, remote.PostsCollection, in.ID, rec)
		return err
	})

	r.mu.Lock()
	deleted, err := r.logs.LoadDeleted(ctx)
	if err != nil {
		r.mu.Unlock()
		return WriteResult{}, fmt.Errorf("update post %d: %w", in.ID, err)
	}
	if deleted.Has(in.ID) {
		r.mu.Unlock()
		return WriteResult{}, &model.NotFoundError{Kind: "post", ID: in.ID}
	}
	updated, err := r.logs.LoadUpdated(ctx)
	if err != nil {
		r.mu.Unlock()
		return WriteResult{}, fmt.Errorf("update post %d: %w", in.ID, err)
	}
	updated[in.ID] = next
	r.logs.SaveUpdated(ctx, updated)
	r.mu.Unlock()

	r.notify(Change{Type: ChangeUpdated, PostID: next.ID, Post: &next})
	return WriteResult{Post: next, Remote: echo}, nil
}

// applyUpdate overlays the supplied fields of in onto current as a JSON merge
// patch. The id is never changed.
func applyUpdate(current model.Post, in model.UpdatePostInput) (model.Post, error) {
	base, err := json.Marshal(current)
	if err != nil {
		return model.Post{}, fmt.Errorf("encode post %d: %w", current.ID, err)
	}
	patch, err := json.Marshal(in)
	if err != nil {
		return model.Post{}, fmt.Errorf("encode update of post %d: %w", current.ID, err)
	}
	merger := jsonmerge.Merger{CopyNonexistent: true}
	merged, err := merger.MergeBytes(base, patch)
	if err != nil {
		return model.Post{}, fmt.Errorf("merge update of post %d: %w", current.ID, err)
	}
	var next model.Post
	if err := json.Unmarshal(merged, &next); err != nil {
		return model.Post{}, fmt.Errorf("decode updated post %d: %w", current.ID, err)
	}
	next.ID = current.ID
	return next, nil
}

// Delete removes a local post outright. A remote post is tombstoned in the
// deleted overlay and its pending edit dropped. Deleting twice is harmless.
func (r *PostRepository) Delete(ctx context.Context, id int) (WriteResult, error) {
	r.mu.Lock()
	created, err := r.logs.LoadCreated(ctx)
	if err != nil {
		r.mu.Unlock()
		return WriteResult{}, fmt.Errorf("delete post %d: %w", id, err)
	}
	if idx := indexOf(created, id); idx >= 0 {
		removed := created[idx]
		r.logs.SaveCreated(ctx, slices.Delete(created, idx, idx+1))
		r.mu.Unlock()

		r.notify(Change{Type: ChangeDeleted, PostID: id})
		return WriteResult{Post: removed}, nil
	}
	r.mu.Unlock()

	if r.IsLocal(id) {
		return WriteResult{Post: model.Post{ID: id}}, nil
	}

	echo := r.echo("delete", id, func() error {
		return r.source.Remove(ctx, remote.PostsCollection, id)
	})

	r.mu.Lock()
	deleted, err := r.logs.LoadDeleted(ctx)
	if err != nil {
		r.mu.Unlock()
		return WriteResult{}, fmt.Errorf("delete post %d: %w", id, err)
	}
	updated, err := r.logs.LoadUpdated(ctx)
	if err != nil {
		r.mu.Unlock()
		return WriteResult{}, fmt.Errorf("delete post %d: %w", id, err)
	}
	deleted[id] = struct{}{}
	r.logs.SaveDeleted(ctx, deleted)
	if _, ok := updated[id]; ok {
		delete(updated, id)
		r.logs.SaveUpdated(ctx, updated)
	}
	r.mu.Unlock()

	r.notify(Change{Type: ChangeDeleted, PostID: id})
	return WriteResult{Post: model.Post{ID: id}, Remote: echo}, nil
}

// ClearLocal drops every overlay, leaving the bare remote view.
func (r *PostRepository) ClearLocal(ctx context.Context) error {
	r.mu.Lock()
	err := r.logs.Clear(ctx)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("clear local posts: %w", err)
	}
	r.notify(Change{Type: ChangeCleared})
	return nil
}

func (r *PostRepository) echo(op string, id int, call func() error) RemoteEcho {
	if err := call(); err != nil {
		glog.Warningf("remote %s of post %d failed, local change kept: %v", op, id, err)
		return RemoteEcho{Attempted: true, Err: err}
	}
	return RemoteEcho{Attempted: true}
}

func (r *PostRepository) notify(c Change) {
	if r.notifier != nil {
		r.notifier.Notify(c)
	}
}

func indexOf(posts []model.Post, id int) int {
	return slices.IndexFunc(posts, func(p model.Post) bool { return p.ID == id })
}
