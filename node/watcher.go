package node

import (
	"go.uber.org/zap"

	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/replication"
)

// watcher logs replication lifecycle events. Errors are logged by the engine.
type watcher struct {
	logger log.Logger
}

func newWatcher(logger log.Logger) *watcher {
	return &watcher{
		logger: logger,
	}
}

func (w *watcher) OnReady() {
	w.logger.Info("replication ready")
}

func (w *watcher) OnSync(hash string) {
	w.logger.Info("replication synced", zap.String("hash", hash))
}

func (w *watcher) OnError(_ error) {
}

var _ replication.Watcher = &watcher{}
