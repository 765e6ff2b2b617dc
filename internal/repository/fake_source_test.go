package repository

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"postkeeper/internal/model"
	"postkeeper/internal/remote"
)

var errUnreachable = errors.New("connection refused")

// fakeSource is an in-memory remote that, like jsonplaceholder, accepts
// writes without applying them.
type fakeSource struct {
	mu        sync.Mutex
	posts     []model.Post
	users     []model.User
	failReads bool
	failWrite bool
	calls     []string
}

func newFakeSource(posts ...model.Post) *fakeSource {
	return &fakeSource{posts: posts}
}

func (f *fakeSource) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSource) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSource) SetFailReads(v bool) {
	f.mu.Lock()
	f.failReads = v
	f.mu.Unlock()
}

func (f *fakeSource) SetFailWrites(v bool) {
	f.mu.Lock()
	f.failWrite = v
	f.mu.Unlock()
}

func (f *fakeSource) FetchAll(_ context.Context, collection string) ([]remote.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GET " + collection)
	if f.failReads {
		return nil, &model.RemoteError{Op: http.MethodGet, URL: collection, Err: errUnreachable}
	}
	var out []remote.Raw
	switch collection {
	case remote.PostsCollection:
		for _, p := range f.posts {
			out = append(out, remote.PostToRaw(p))
		}
	case remote.UsersCollection:
		for _, u := range f.users {
			out = append(out, userToRaw(u))
		}
	}
	return out, nil
}

func (f *fakeSource) FetchOne(_ context.Context, collection string, id int) (remote.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GET " + collection + "/id")
	if f.failReads {
		return nil, &model.RemoteError{Op: http.MethodGet, URL: collection, Err: errUnreachable}
	}
	switch collection {
	case remote.PostsCollection:
		for _, p := range f.posts {
			if p.ID == id {
				return remote.PostToRaw(p), nil
			}
		}
	case remote.UsersCollection:
		for _, u := range f.users {
			if u.ID == id {
				return userToRaw(u), nil
			}
		}
	}
	return nil, &model.RemoteError{Op: http.MethodGet, URL: collection, Status: http.StatusNotFound}
}

func (f *fakeSource) write(op, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(op + " " + collection)
	if f.failWrite {
		return &model.RemoteError{Op: op, URL: collection, Status: http.StatusServiceUnavailable}
	}
	return nil
}

func (f *fakeSource) Create(_ context.Context, collection string, rec remote.Raw) (remote.Raw, error) {
	if err := f.write(http.MethodPost, collection); err != nil {
		return nil, err
	}
	rec["id"] = float64(101)
	return rec, nil
}

func (f *fakeSource) Replace(_ context.Context, collection string, id int, rec remote.Raw) (remote.Raw, error) {
	if err := f.write(http.MethodPut, collection); err != nil {
		return nil, err
	}
	rec["id"] = float64(id)
	return rec, nil
}

func (f *fakeSource) Remove(_ context.Context, collection string, _ int) error {
	return f.write(http.MethodDelete, collection)
}

func userToRaw(u model.User) remote.Raw {
	return remote.Raw{
		"id":       float64(u.ID),
		"name":     u.Name,
		"username": u.Username,
		"email":    u.Email,
		"address":  map[string]any{"city": u.Address.City},
		"company":  map[string]any{"name": u.Company.Name},
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
}

func (n *recordingNotifier) Notify(c Change) {
	n.mu.Lock()
	n.changes = append(n.changes, c)
	n.mu.Unlock()
}

func (n *recordingNotifier) Types() []ChangeType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ChangeType, 0, len(n.changes))
	for _, c := range n.changes {
		out = append(out, c.Type)
	}
	return out
}
