package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
)

// fakeUpstream stands in for jsonplaceholder: a fixed post and user set,
// writes answered but never applied.
type fakeUpstream struct {
	srv    *httptest.Server
	posts  []map[string]any
	users  []map[string]any
	writes atomic.Int64
}

func newFakeUpstream(nPosts int) *fakeUpstream {
	u := &fakeUpstream{}
	for i := 1; i <= nPosts; i++ {
		u.posts = append(u.posts, map[string]any{
			"id":     i,
			"userId": (i-1)/10 + 1,
			"title":  fmt.Sprintf("post number %d", i),
			"body":   "lorem ipsum",
		})
	}
	for i := 1; i <= 3; i++ {
		u.users = append(u.users, map[string]any{
			"id":       i,
			"name":     fmt.Sprintf("User %d", i),
			"username": fmt.Sprintf("user%d", i),
			"address":  map[string]any{"city": "Gwenborough", "geo": map[string]any{"lat": "1", "lng": "2"}},
		})
	}
	u.srv = httptest.NewServer(http.HandlerFunc(u.serve))
	return u
}

func (u *fakeUpstream) URL() string { return u.srv.URL }

func (u *fakeUpstream) Close() { u.srv.Close() }

func (u *fakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if r.Method != http.MethodGet {
		u.writes.Add(1)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":101}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
		return
	}

	var items []map[string]any
	switch parts[0] {
	case "posts":
		items = u.posts
	case "users":
		items = u.users
	default:
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		_ = json.NewEncoder(w).Encode(items)
		return
	}
	id, _ := strconv.Atoi(parts[1])
	for _, it := range items {
		if it["id"] == id {
			_ = json.NewEncoder(w).Encode(it)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{}`))
}
