package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/setdb/node/config"
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/record"
	"github.com/andydunstall/setdb/pkg/replication"
	"github.com/andydunstall/setdb/pkg/store"
)

// fakeRecordStore is a RecordStore backed by a store without replication.
type fakeRecordStore struct {
	store *store.Store
	err   error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		store: store.New(record.DefaultIndexBy, record.AcceptAll),
	}
}

func (s *fakeRecordStore) Put(_ context.Context, v any) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	r, err := record.Normalize(v)
	if err != nil {
		return false, err
	}
	return s.store.Admit(r), nil
}

func (s *fakeRecordStore) Get(key string) (record.Record, bool) {
	return s.store.Get(key)
}

func (s *fakeRecordStore) Query(pred func(r record.Record) bool) []record.Record {
	return s.store.Query(pred)
}

var _ RecordStore = &fakeRecordStore{}

func newTestServer(records RecordStore) *httptest.Server {
	server := NewServer(
		records,
		config.AdminConfig{BindAddr: ":0"},
		prometheus.NewRegistry(),
		log.NewNopLogger(),
	)
	return httptest.NewServer(server.httpServer.Handler)
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(v))
}

func TestServer_Records(t *testing.T) {
	records := newFakeRecordStore()
	server := newTestServer(records)
	defer server.Close()

	t.Run("put", func(t *testing.T) {
		resp, err := http.Post(
			server.URL+"/v1/records",
			"application/json",
			strings.NewReader(`{"_id":"1","name":"foo","n":1.50}`),
		)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var putResp PutRecordResponse
		decodeBody(t, resp, &putResp)
		assert.True(t, putResp.Added)

		// Writing the same key again isn't added.
		resp, err = http.Post(
			server.URL+"/v1/records",
			"application/json",
			strings.NewReader(`{"_id":"1","name":"bar"}`),
		)
		require.NoError(t, err)
		defer resp.Body.Close()
		decodeBody(t, resp, &putResp)
		assert.False(t, putResp.Added)
	})

	t.Run("put invalid", func(t *testing.T) {
		for _, body := range []string{`[1,2]`, `null`, `"foo"`, `{`} {
			resp, err := http.Post(
				server.URL+"/v1/records",
				"application/json",
				strings.NewReader(body),
			)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		}
	})

	t.Run("get", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/v1/records/1")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var r record.Record
		decodeBody(t, resp, &r)
		assert.Equal(t, record.Record{
			"_id":  "1",
			"name": "foo",
			"n":    json.Number("1.50"),
		}, r)
	})

	t.Run("get not found", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/v1/records/2")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("list", func(t *testing.T) {
		_, err := records.Put(context.TODO(), map[string]any{"_id": "2", "name": "bar"})
		require.NoError(t, err)

		resp, err := http.Get(server.URL + "/v1/records")
		require.NoError(t, err)
		defer resp.Body.Close()

		var list []record.Record
		decodeBody(t, resp, &list)
		require.Len(t, list, 2)
		assert.Equal(t, "1", list[0]["_id"])
		assert.Equal(t, "2", list[1]["_id"])
	})

	t.Run("list filtered", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/v1/records?name=bar")
		require.NoError(t, err)
		defer resp.Body.Close()

		var list []record.Record
		decodeBody(t, resp, &list)
		require.Len(t, list, 1)
		assert.Equal(t, "2", list[0]["_id"])

		resp, err = http.Get(server.URL + "/v1/records?name=unknown")
		require.NoError(t, err)
		defer resp.Body.Close()

		decodeBody(t, resp, &list)
		assert.Empty(t, list)
	})
}

func TestServer_Closed(t *testing.T) {
	records := newFakeRecordStore()
	records.err = replication.ErrClosed
	server := newTestServer(records)
	defer server.Close()

	resp, err := http.Post(
		server.URL+"/v1/records",
		"application/json",
		strings.NewReader(`{"_id":"1"}`),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	server := newTestServer(newFakeRecordStore())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
