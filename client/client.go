// Package client is a client for the SetDB node admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/andydunstall/setdb/node/admin"
	"github.com/andydunstall/setdb/pkg/record"
	"github.com/andydunstall/setdb/pkg/replication"
	"github.com/andydunstall/setdb/pkg/status"
)

type options struct {
	timeout time.Duration
}

type Option interface {
	apply(*options)
}

type timeoutOption time.Duration

func (o timeoutOption) apply(opts *options) {
	opts.timeout = time.Duration(o)
}

// WithTimeout configures the request timeout. Defaults to 15 seconds.
func WithTimeout(timeout time.Duration) Option {
	return timeoutOption(timeout)
}

// Client is a client for a node's admin API.
type Client struct {
	httpClient *http.Client

	url *url.URL
}

// NewClient returns a client for the node admin server at the given URL,
// such as 'http://localhost:8200'.
func NewClient(url *url.URL, opts ...Option) *Client {
	options := options{
		timeout: time.Second * 15,
	}
	for _, o := range opts {
		o.apply(&options)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: options.timeout,
		},
		url: url,
	}
}

// Records returns the records in key order. If filters is non-empty, only
// records whose fields match every filter are returned.
func (c *Client) Records(ctx context.Context, filters map[string]string) ([]record.Record, error) {
	query := make(url.Values)
	for field, v := range filters {
		query.Set(field, v)
	}

	r, err := c.request(ctx, http.MethodGet, "/v1/records", query, nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []record.Record
	if err := decode(r, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Record returns the record with the given key. Returns a *status.ErrorInfo
// with status 404 if the record doesn't exist.
func (c *Client) Record(ctx context.Context, id string) (record.Record, error) {
	r, err := c.request(ctx, http.MethodGet, "/v1/records/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var rec record.Record
	if err := decode(r, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// PutRecord writes the record to the node. Returns whether the record was
// added to the set.
func (c *Client) PutRecord(ctx context.Context, rec record.Record) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}

	r, err := c.request(ctx, http.MethodPost, "/v1/records", nil, b)
	if err != nil {
		return false, err
	}
	defer r.Close()

	var resp admin.PutRecordResponse
	if err := decode(r, &resp); err != nil {
		return false, err
	}
	return resp.Added, nil
}

// ReplicationStatus returns the status of the node's replication engine.
func (c *Client) ReplicationStatus(ctx context.Context) (*replication.EngineStatus, error) {
	r, err := c.request(ctx, http.MethodGet, "/status/replication", nil, nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var s replication.EngineStatus
	if err := decode(r, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) request(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	body []byte,
) (io.ReadCloser, error) {
	// The path is already escaped.
	u := c.url.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		errorInfo := status.NewErrorInfo(resp.StatusCode, http.StatusText(resp.StatusCode))
		// Use the server error message if given.
		_ = json.NewDecoder(resp.Body).Decode(errorInfo)
		return nil, errorInfo
	}

	return resp.Body, nil
}

func decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	// Keep number literals as written by the node.
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
