package blob

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestHash(t *testing.T) {
	assert.Equal(
		t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash(nil),
	)
	assert.Equal(t, Hash([]byte("foo")), Hash([]byte("foo")))
	assert.NotEqual(t, Hash([]byte("foo")), Hash([]byte("bar")))

	assert.True(t, ValidHash(Hash([]byte("foo"))))
	assert.False(t, ValidHash("foo"))
	assert.False(t, ValidHash(strings.Repeat("z", 64)))
	assert.False(t, ValidHash(strings.ToUpper(Hash([]byte("foo")))))
	assert.False(t, ValidHash("../../metrics"))
}

// testStore runs the shared Store behaviour against the given store.
func testStore(t *testing.T, store Store) {
	t.Run("put and get", func(t *testing.T) {
		hash, err := store.Put(context.Background(), []byte("foo"))
		require.NoError(t, err)
		assert.Equal(t, Hash([]byte("foo")), hash)

		b, err := store.Get(context.Background(), hash)
		require.NoError(t, err)
		assert.Equal(t, []byte("foo"), b)
	})

	t.Run("put duplicate", func(t *testing.T) {
		hash1, err := store.Put(context.Background(), []byte("bar"))
		require.NoError(t, err)
		hash2, err := store.Put(context.Background(), []byte("bar"))
		require.NoError(t, err)
		assert.Equal(t, hash1, hash2)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.Get(context.Background(), Hash([]byte("unknown")))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	testStore(t, store)

	t.Run("returns copy", func(t *testing.T) {
		hash, err := store.Put(context.Background(), []byte("copy"))
		require.NoError(t, err)

		b, err := store.Get(context.Background(), hash)
		require.NoError(t, err)
		b[0] = 'x'

		b, err = store.Get(context.Background(), hash)
		require.NoError(t, err)
		assert.Equal(t, []byte("copy"), b)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.Put(ctx, []byte("foo"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)

	testStore(t, store)

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.Close())

	t.Run("persisted", func(t *testing.T) {
		store, err := OpenSQLite(path)
		require.NoError(t, err)
		defer store.Close()

		b, err := store.Get(context.Background(), Hash([]byte("foo")))
		require.NoError(t, err)
		assert.Equal(t, []byte("foo"), b)
	})
}

// fakeHub serves the hub blob API from a MemoryStore.
func fakeHub(store *MemoryStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			hash, _ := store.Put(r.Context(), b)
			_ = json.NewEncoder(w).Encode(&PutResponse{Hash: hash})
		case http.MethodGet:
			hash := strings.TrimPrefix(r.URL.Path, "/v1/blobs/")
			b, err := store.Get(r.Context(), hash)
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(b)
		}
	})
}

func TestHTTPStore(t *testing.T) {
	server := httptest.NewServer(fakeHub(NewMemoryStore()))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	store := NewHTTPStore(u)
	defer store.Close()

	testStore(t, store)

	t.Run("bad status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		u, _ := url.Parse(server.URL)
		store := NewHTTPStore(u)
		defer store.Close()

		_, err := store.Put(context.Background(), []byte("foo"))
		assert.Error(t, err)

		_, err = store.Get(context.Background(), Hash([]byte("foo")))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("corrupt blob", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("corrupt"))
		}))
		defer server.Close()

		u, _ := url.Parse(server.URL)
		store := NewHTTPStore(u)
		defer store.Close()

		_, err := store.Get(context.Background(), Hash([]byte("foo")))
		assert.Error(t, err)
	})

	t.Run("slow get", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Slower than the put timeout.
			<-time.After(time.Millisecond * 200)
			_, _ = w.Write([]byte("foo"))
		}))
		defer server.Close()

		u, _ := url.Parse(server.URL)
		store := NewHTTPStore(u, WithPutTimeout(time.Millisecond*50))
		defer store.Close()

		// Fetches have no timeout so wait for the hub to respond.
		b, err := store.Get(context.Background(), Hash([]byte("foo")))
		require.NoError(t, err)
		assert.Equal(t, []byte("foo"), b)

		_, err = store.Put(context.Background(), []byte("foo"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("get cancelled", func(t *testing.T) {
		blockCh := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-blockCh:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(blockCh)

		u, _ := url.Parse(server.URL)
		store := NewHTTPStore(u)
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		defer cancel()
		_, err := store.Get(ctx, Hash([]byte("foo")))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("invalid hash", func(t *testing.T) {
		var requests atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Inc()
			_, _ = w.Write([]byte("foo"))
		}))
		defer server.Close()

		u, _ := url.Parse(server.URL)
		store := NewHTTPStore(u)
		defer store.Close()

		for _, hash := range []string{"../../metrics", "", "foo"} {
			_, err := store.Get(context.Background(), hash)
			assert.Error(t, err, hash)
		}
		assert.Equal(t, int64(0), requests.Load())
	})

	t.Run("too large", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chunk := make([]byte, 1<<20)
			for i := 0; i <= MaxSize/len(chunk); i++ {
				if _, err := w.Write(chunk); err != nil {
					return
				}
			}
		}))
		defer server.Close()

		u, _ := url.Parse(server.URL)
		store := NewHTTPStore(u)
		defer store.Close()

		_, err := store.Get(context.Background(), Hash([]byte("foo")))
		assert.ErrorIs(t, err, ErrTooLarge)
	})
}
