// Package apiclient is a typed Go client for the postkeeper HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"postkeeper/internal/model"
	"postkeeper/internal/query"
)

const remoteEchoHeader = "X-Remote-Echo"

var ErrNotFound = errors.New("not found")

// APIError surfaces non-2xx responses from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%s", e.StatusCode, e.Message)
}

//nolint:errorlint
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// ListOptions mirrors the list query parameters. Zero values are left out.
type ListOptions struct {
	Page    int
	Limit   int
	Sort    string
	Order   string
	Filters []string
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Sort != "" {
		v.Set("sort", o.Sort)
	}
	if o.Order != "" {
		v.Set("order", o.Order)
	}
	for _, f := range o.Filters {
		v.Add("filter", f)
	}
	return v
}

// PostWrite is the answer to a write: the post and the remote echo status.
type PostWrite struct {
	Post       model.Post
	RemoteEcho string
}

// PostPatch lists the fields to change; nil fields are left alone.
type PostPatch struct {
	UserID *int    `json:"userId,omitempty"`
	Title  *string `json:"title,omitempty"`
	Body   *string `json:"body,omitempty"`
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) ListPosts(ctx context.Context, opts ListOptions) (query.Page[model.Post], error) {
	var page query.Page[model.Post]
	err := c.do(ctx, http.MethodGet, "/v1/posts?"+opts.values().Encode(), nil, &page, nil)
	return page, err
}

// GetPost returns ErrNotFound on 404.
func (c *Client) GetPost(ctx context.Context, id int) (model.Post, error) {
	path, err := itemPath("/v1/posts", id)
	if err != nil {
		return model.Post{}, err
	}
	var p model.Post
	err = c.do(ctx, http.MethodGet, path, nil, &p, nil)
	return p, err
}

func (c *Client) CreatePost(ctx context.Context, in model.CreatePostInput) (PostWrite, error) {
	var out PostWrite
	err := c.do(ctx, http.MethodPost, "/v1/posts", in, &out.Post, &out.RemoteEcho)
	return out, err
}

func (c *Client) ReplacePost(ctx context.Context, id int, in model.CreatePostInput) (PostWrite, error) {
	path, err := itemPath("/v1/posts", id)
	if err != nil {
		return PostWrite{}, err
	}
	var out PostWrite
	err = c.do(ctx, http.MethodPut, path, in, &out.Post, &out.RemoteEcho)
	return out, err
}

func (c *Client) PatchPost(ctx context.Context, id int, patch PostPatch) (PostWrite, error) {
	path, err := itemPath("/v1/posts", id)
	if err != nil {
		return PostWrite{}, err
	}
	var out PostWrite
	err = c.do(ctx, http.MethodPatch, path, patch, &out.Post, &out.RemoteEcho)
	return out, err
}

// DeletePost returns the remote echo status.
func (c *Client) DeletePost(ctx context.Context, id int) (string, error) {
	path, err := itemPath("/v1/posts", id)
	if err != nil {
		return "", err
	}
	var echo string
	err = c.do(ctx, http.MethodDelete, path, nil, nil, &echo)
	return echo, err
}

func (c *Client) ClearLocal(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/local", nil, nil, nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := c.do(ctx, http.MethodGet, "/v1/users", nil, &users, nil)
	return users, err
}

func (c *Client) SearchUsers(ctx context.Context, opts ListOptions) (query.Page[model.User], error) {
	var page query.Page[model.User]
	err := c.do(ctx, http.MethodGet, "/v1/users/search?"+opts.values().Encode(), nil, &page, nil)
	return page, err
}

func (c *Client) GetUser(ctx context.Context, id int) (model.User, error) {
	path, err := itemPath("/v1/users", id)
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	err = c.do(ctx, http.MethodGet, path, nil, &u, nil)
	return u, err
}

func itemPath(collection string, id int) (string, error) {
	seg, err := runtime.StyleParamWithLocation("simple", false, "id", runtime.ParamLocationPath, id)
	if err != nil {
		return "", err
	}
	return collection + "/" + seg, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, echo *string) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}
	if echo != nil {
		*echo = resp.Header.Get(remoteEchoHeader)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func newAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
	}
	msg := string(raw)
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
