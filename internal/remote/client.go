// Package remote talks to the upstream REST collection (jsonplaceholder by
// default). Requests and responses are logged; the upstream is treated as
// read-mostly and nothing here decides whether a failed write matters.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"postkeeper/internal/model"
)

const (
	PostsCollection = "posts"
	UsersCollection = "users"

	DefaultBaseURL = "https://jsonplaceholder.typicode.com"
	DefaultTimeout = 15 * time.Second

	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second
	defaultRetryInterval  = 200 * time.Millisecond
	maxErrorBody          = 512
)

// Raw is an untyped upstream record.
type Raw = map[string]any

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Retries bounds extra attempts for GETs that fail with a network error or 5xx.
	Retries       uint64
	RetryInterval time.Duration
	HTTPClient    *http.Client
}

type Client struct {
	baseURL       string
	http          *http.Client
	retries       uint64
	retryInterval time.Duration
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultConnectTimeout,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient(cfg.Timeout)
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		http:          httpClient,
		retries:       cfg.Retries,
		retryInterval: cfg.RetryInterval,
	}
}

func (c *Client) collectionURL(collection string) string {
	return c.baseURL + "/" + collection
}

func (c *Client) itemURL(collection string, id int) (string, error) {
	seg, err := runtime.StyleParamWithLocation("simple", false, "id", runtime.ParamLocationPath, id)
	if err != nil {
		return "", fmt.Errorf("style id %d: %w", id, err)
	}
	return c.collectionURL(collection) + "/" + seg, nil
}

func (c *Client) FetchAll(ctx context.Context, collection string) ([]Raw, error) {
	var out []Raw
	if err := c.get(ctx, c.collectionURL(collection), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchOne returns an error matching model.ErrNotFound on a 404.
func (c *Client) FetchOne(ctx context.Context, collection string, id int) (Raw, error) {
	url, err := c.itemURL(collection, id)
	if err != nil {
		return nil, err
	}
	var out Raw
	if err := c.get(ctx, url, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, collection string, rec Raw) (Raw, error) {
	var out Raw
	if err := c.do(ctx, http.MethodPost, c.collectionURL(collection), rec, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Replace(ctx context.Context, collection string, id int, rec Raw) (Raw, error) {
	url, err := c.itemURL(collection, id)
	if err != nil {
		return nil, err
	}
	var out Raw
	if err := c.do(ctx, http.MethodPut, url, rec, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Remove(ctx context.Context, collection string, id int) error {
	url, err := c.itemURL(collection, id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, url, nil, nil)
}

// get retries transient failures; 4xx answers are final.
func (c *Client) get(ctx context.Context, url string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx)

	return backoff.Retry(func() error {
		err := c.do(ctx, http.MethodGet, url, nil, out)
		var remoteErr *model.RemoteError
		if errors.As(err, &remoteErr) && remoteErr.Status >= 400 && remoteErr.Status < 500 {
			return backoff.Permanent(err)
		}
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, url, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, url, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	glog.V(1).Infof("[%s] request %s %s", reqID, method, url)
	resp, err := c.http.Do(req)
	if err != nil {
		glog.Warningf("[%s] network error %s %s: %v", reqID, method, url, err)
		return &model.RemoteError{Op: method, URL: url, Err: err}
	}
	defer resp.Body.Close()
	glog.V(1).Infof("[%s] response %s %s: %d in %s", reqID, method, url, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		glog.Warningf("[%s] api error %s %s: status=%d body=%s", reqID, method, url, resp.StatusCode, snippet)
		return &model.RemoteError{Op: method, URL: url, Status: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.RemoteError{Op: method, URL: url, Status: 0, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
