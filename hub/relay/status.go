package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andydunstall/setdb/pkg/status"
)

type Status struct {
	relay *Relay
}

func NewStatus(relay *Relay) *Status {
	return &Status{
		relay: relay,
	}
}

func (s *Status) Register(group *gin.RouterGroup) {
	group.GET("/topics", s.listTopicsRoute)
}

func (s *Status) listTopicsRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.Topics())
}

var _ status.Handler = &Status{}
