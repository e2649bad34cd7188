package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	fspath "path"
	"time"
)

// PutResponse is the response to uploading a blob to the hub.
type PutResponse struct {
	Hash string `json:"hash"`
}

var (
	// ErrTooLarge is returned when a blob exceeds MaxSize.
	ErrTooLarge = errors.New("blob too large")
)

type httpOptions struct {
	putTimeout time.Duration
}

type HTTPOption interface {
	apply(*httpOptions)
}

type putTimeoutOption time.Duration

func (o putTimeoutOption) apply(opts *httpOptions) {
	opts.putTimeout = time.Duration(o)
}

// WithPutTimeout configures the timeout to upload a blob. Defaults to 30
// seconds.
//
// Fetching a blob has no timeout. A slow fetch only delays the gossip round
// that requested it, and is cancelled with the request context.
func WithPutTimeout(timeout time.Duration) HTTPOption {
	return putTimeoutOption(timeout)
}

// HTTPStore is a Store client for the hub blob API.
type HTTPStore struct {
	httpClient *http.Client

	url *url.URL

	putTimeout time.Duration
}

// NewHTTPStore returns a store using the hub at the given URL, such as
// 'http://localhost:8100'.
func NewHTTPStore(url *url.URL, opts ...HTTPOption) *HTTPStore {
	options := httpOptions{
		putTimeout: time.Second * 30,
	}
	for _, o := range opts {
		o.apply(&options)
	}

	return &HTTPStore{
		httpClient: &http.Client{},
		url:        url,
		putTimeout: options.putTimeout,
	}
}

func (s *HTTPStore) Put(ctx context.Context, b []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.putTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPut, s.blobsURL(""), bytes.NewReader(b),
	)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request: bad status: %d", resp.StatusCode)
	}

	var putResp PutResponse
	if err := json.NewDecoder(resp.Body).Decode(&putResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	// Verify the hub agrees on the content address.
	if expected := Hash(b); putResp.Hash != expected {
		return "", fmt.Errorf(
			"hash mismatch: %s != %s", putResp.Hash, expected,
		)
	}
	return putResp.Hash, nil
}

func (s *HTTPStore) Get(ctx context.Context, hash string) ([]byte, error) {
	// The hash is part of the request path.
	if !ValidHash(hash) {
		return nil, fmt.Errorf("invalid hash: %q", hash)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, s.blobsURL(hash), nil,
	)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request: bad status: %d", resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(b) > MaxSize {
		return nil, ErrTooLarge
	}
	if Hash(b) != hash {
		return nil, fmt.Errorf("hash mismatch: %s", hash)
	}
	return b, nil
}

func (s *HTTPStore) Close() {
	s.httpClient.CloseIdleConnections()
}

func (s *HTTPStore) blobsURL(hash string) string {
	u := new(url.URL)
	*u = *s.url
	u.Path = fspath.Join(u.Path, "/v1/blobs", hash)
	return u.String()
}

var _ Store = &HTTPStore{}
