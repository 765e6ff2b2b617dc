package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"

	"postkeeper/internal/model"
)

func TestClientRequestsAndErrors(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing X-Request-ID")
		}
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/posts/7":
			_ = json.NewEncoder(w).Encode(model.Post{ID: 7, Title: "seven"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/posts/8":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"post with id 8 not found"}`))
		case r.Method == http.MethodPost:
			w.Header().Set(remoteEchoHeader, "failed")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(model.Post{ID: 10001, Title: "new"})
		case r.Method == http.MethodDelete:
			w.Header().Set(remoteEchoHeader, "ok")
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/v1/posts":
			_, _ = w.Write([]byte(`{"data":[],"total":0,"page":2,"limit":5,"totalPages":0}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", nil)
	ctx := context.Background()

	p, err := c.GetPost(ctx, 7)
	assert.Equal(t, err, nil)
	assert.Equal(t, p.Title, "seven")

	_, err = c.GetPost(ctx, 8)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	assert.Equal(t, apiErr.Message, "post with id 8 not found")

	w, err := c.CreatePost(ctx, model.CreatePostInput{UserID: 1, Title: "new", Body: "b"})
	assert.Equal(t, err, nil)
	assert.Equal(t, w.Post.ID, 10001)
	assert.Equal(t, w.RemoteEcho, "failed")

	echo, err := c.DeletePost(ctx, 3)
	assert.Equal(t, err, nil)
	assert.Equal(t, echo, "ok")

	page, err := c.ListPosts(ctx, ListOptions{Page: 2, Limit: 5, Sort: "id", Order: "desc", Filters: []string{"title:contains:a b", "userId:equals:1"}})
	assert.Equal(t, err, nil)
	assert.Equal(t, page.Page, 2)

	_, err = c.GetUser(ctx, 1)
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("400 must not read as not found")
	}

	assert.Equal(t, seen[4], "GET /v1/posts?filter=title%3Acontains%3Aa+b&filter=userId%3Aequals%3A1&limit=5&order=desc&page=2&sort=id")
}
