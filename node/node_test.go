package node

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hubconfig "github.com/andydunstall/setdb/hub/config"
	"github.com/andydunstall/setdb/hub/relay"
	hubserver "github.com/andydunstall/setdb/hub/server"
	"github.com/andydunstall/setdb/node/config"
	"github.com/andydunstall/setdb/pkg/blob"
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/replication"
)

func startHub(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := relay.NewRelay(256, log.NewNopLogger())
	server := hubserver.NewServer(
		r,
		blob.NewMemoryStore(),
		hubconfig.HTTPConfig{BindAddr: ln.Addr().String()},
		nil,
		log.NewNopLogger(),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		wg.Wait()
	})

	return "http://" + ln.Addr().String()
}

func nodeConfig(hubURL string, id string) *config.Config {
	conf := config.Default()
	conf.ID = id
	conf.Hub.URL = hubURL
	conf.Hub.Timeout = time.Second * 5
	conf.Replication.Topic = "my-topic"
	return conf
}

func startNode(t *testing.T, conf *config.Config) *Node {
	n, err := New(context.Background(), conf, prometheus.NewRegistry(), log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, n.Close())
	})
	return n
}

func waitReady(t *testing.T, n *Node) {
	select {
	case <-n.Engine().Ready():
	case <-time.After(time.Second * 5):
		t.Fatal("node not ready")
	}
}

func TestNode(t *testing.T) {
	t.Run("replicate", func(t *testing.T) {
		hubURL := startHub(t)

		a := startNode(t, nodeConfig(hubURL, "node-a"))
		b := startNode(t, nodeConfig(hubURL, "node-b"))
		assert.Equal(t, "node-a", a.ID())
		assert.Equal(t, "node-b", b.ID())

		waitReady(t, a)
		waitReady(t, b)

		added, err := a.Engine().Put(context.TODO(), map[string]any{
			"_id":  "1",
			"name": "foo",
		})
		require.NoError(t, err)
		assert.True(t, added)

		assert.Eventually(t, func() bool {
			_, ok := b.Engine().Get("1")
			return ok
		}, time.Second*5, time.Millisecond*10)

		assert.Eventually(t, func() bool {
			return a.Engine().Hash() == b.Engine().Hash()
		}, time.Second*5, time.Millisecond*10)
	})

	t.Run("late joiner", func(t *testing.T) {
		hubURL := startHub(t)

		a := startNode(t, nodeConfig(hubURL, "node-a"))
		waitReady(t, a)

		for _, id := range []string{"1", "2", "3"} {
			_, err := a.Engine().Put(context.TODO(), map[string]any{"_id": id})
			require.NoError(t, err)
		}

		// A node started after the writes learns the set from its peers.
		b := startNode(t, nodeConfig(hubURL, "node-b"))
		waitReady(t, b)

		assert.Eventually(t, func() bool {
			return b.Engine().Len() == 3
		}, time.Second*5, time.Millisecond*10)
	})

	t.Run("seed", func(t *testing.T) {
		hubURL := startHub(t)

		a := startNode(t, nodeConfig(hubURL, "node-a"))
		waitReady(t, a)
		_, err := a.Engine().Put(context.TODO(), map[string]any{"_id": "1"})
		require.NoError(t, err)

		var seedHash string
		assert.Eventually(t, func() bool {
			seedHash = a.Engine().Hash()
			return seedHash != ""
		}, time.Second*5, time.Millisecond*10)

		// Use a different topic so the node only learns records from the
		// seed snapshot.
		conf := nodeConfig(hubURL, "node-b")
		conf.Replication.Topic = "other-topic"
		conf.Replication.SeedHash = seedHash
		b := startNode(t, conf)
		waitReady(t, b)

		_, ok := b.Engine().Get("1")
		assert.True(t, ok)
		assert.Equal(t, seedHash, b.Engine().Hash())
	})

	t.Run("validator", func(t *testing.T) {
		hubURL := startHub(t)

		conf := nodeConfig(hubURL, "node-a")
		conf.Validator.RequiredFields = []string{"name"}
		a := startNode(t, conf)
		waitReady(t, a)

		added, err := a.Engine().Put(context.TODO(), map[string]any{"_id": "1"})
		require.NoError(t, err)
		assert.False(t, added)
	})

	t.Run("hub unreachable", func(t *testing.T) {
		// Listen then close to find an unused port.
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		ln.Close()

		conf := nodeConfig("http://"+addr, "node-a")
		conf.Hub.Timeout = time.Millisecond * 100
		_, err = New(context.Background(), conf, nil, log.NewNopLogger())
		assert.Error(t, err)
	})

	t.Run("closed", func(t *testing.T) {
		hubURL := startHub(t)

		n, err := New(context.Background(), nodeConfig(hubURL, "node-a"), nil, log.NewNopLogger())
		require.NoError(t, err)
		waitReady(t, n)
		require.NoError(t, n.Close())

		_, err = n.Engine().Put(context.TODO(), map[string]any{"_id": "1"})
		assert.ErrorIs(t, err, replication.ErrClosed)
	})
}
