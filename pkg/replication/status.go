package replication

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andydunstall/setdb/pkg/status"
)

// EngineStatus is the status of a replication engine.
type EngineStatus struct {
	Topic   string `json:"topic"`
	IndexBy string `json:"index_by"`
	State   string `json:"state"`
	// Hash is the content address of the latest snapshot.
	Hash    string `json:"hash"`
	Records int    `json:"records"`
}

type Status struct {
	engine *Engine
}

func NewStatus(engine *Engine) *Status {
	return &Status{
		engine: engine,
	}
}

func (s *Status) Register(group *gin.RouterGroup) {
	group.GET("", s.engineRoute)
}

func (s *Status) engineRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

var _ status.Handler = &Status{}
