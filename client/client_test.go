package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/setdb/node/admin"
	"github.com/andydunstall/setdb/node/config"
	"github.com/andydunstall/setdb/pkg/blob"
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/pubsub"
	"github.com/andydunstall/setdb/pkg/record"
	"github.com/andydunstall/setdb/pkg/replication"
	"github.com/andydunstall/setdb/pkg/status"
)

func startAdminServer(t *testing.T, engine *replication.Engine) *url.URL {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := admin.NewServer(
		engine,
		config.AdminConfig{BindAddr: ln.Addr().String()},
		nil,
		log.NewNopLogger(),
	)
	server.AddStatus("/replication", replication.NewStatus(engine))

	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	u, err := url.Parse("http://" + ln.Addr().String())
	require.NoError(t, err)
	return u
}

func TestClient(t *testing.T) {
	bus := pubsub.NewBus()
	engine := replication.New(
		"my-topic",
		blob.NewMemoryStore(),
		bus.Connect("a"),
		replication.WithValidator(record.RequireFields("name")),
	)
	defer engine.Close()
	<-engine.Ready()

	client := NewClient(startAdminServer(t, engine), WithTimeout(time.Second*5))
	defer client.Close()

	t.Run("put", func(t *testing.T) {
		added, err := client.PutRecord(context.TODO(), record.Record{
			"_id":  "1",
			"name": "foo",
			"n":    json.Number("10"),
		})
		require.NoError(t, err)
		assert.True(t, added)

		added, err = client.PutRecord(context.TODO(), record.Record{
			"_id":  "1",
			"name": "bar",
		})
		require.NoError(t, err)
		assert.False(t, added)

		// Rejected by the validator.
		added, err = client.PutRecord(context.TODO(), record.Record{"_id": "2"})
		require.NoError(t, err)
		assert.False(t, added)
	})

	t.Run("record", func(t *testing.T) {
		r, err := client.Record(context.TODO(), "1")
		require.NoError(t, err)
		assert.Equal(t, record.Record{
			"_id":  "1",
			"name": "foo",
			"n":    json.Number("10"),
		}, r)
	})

	t.Run("record not found", func(t *testing.T) {
		_, err := client.Record(context.TODO(), "2")
		var errorInfo *status.ErrorInfo
		require.True(t, errors.As(err, &errorInfo))
		assert.Equal(t, http.StatusNotFound, errorInfo.StatusCode)
		assert.Equal(t, "record not found", errorInfo.Message)
	})

	t.Run("records", func(t *testing.T) {
		_, err := client.PutRecord(context.TODO(), record.Record{
			"_id":  "3",
			"name": "bar",
		})
		require.NoError(t, err)

		records, err := client.Records(context.TODO(), nil)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "1", records[0]["_id"])
		assert.Equal(t, "3", records[1]["_id"])

		records, err = client.Records(context.TODO(), map[string]string{"name": "bar"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "3", records[0]["_id"])

		// Filter by number literal.
		records, err = client.Records(context.TODO(), map[string]string{"n": "10"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "1", records[0]["_id"])
	})

	t.Run("replication status", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			return engine.Hash() != ""
		}, time.Second*5, time.Millisecond*10)

		s, err := client.ReplicationStatus(context.TODO())
		require.NoError(t, err)
		assert.Equal(t, "my-topic", s.Topic)
		assert.Equal(t, "_id", s.IndexBy)
		assert.Equal(t, "ready", s.State)
		assert.Equal(t, 2, s.Records)
		assert.True(t, blob.ValidHash(s.Hash))
	})
}
