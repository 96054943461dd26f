package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusSource reports the state of a running election.
type StatusSource interface {
	Name() string
	IsRunning() bool
	IsLeader() bool
	Role() string
	Runs() int64
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Election string `json:"election"`
	Instance string `json:"instance"`
	Running  bool   `json:"running"`
	Leader   bool   `json:"leader"`
	Role     string `json:"role,omitempty"`
	Runs     int64  `json:"runs"`
}

// StatusHandler serves the election status.
type StatusHandler struct {
	source   StatusSource
	instance string
}

// NewStatusHandler creates a status handler for the given election.
func NewStatusHandler(source StatusSource, instance string) *StatusHandler {
	return &StatusHandler{source: source, instance: instance}
}

// RegisterRoutes registers GET /status.
func (h *StatusHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/status", h.Status)
}

// Status handles GET /status.
func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Election: h.source.Name(),
		Instance: h.instance,
		Running:  h.source.IsRunning(),
		Leader:   h.source.IsLeader(),
		Role:     h.source.Role(),
		Runs:     h.source.Runs(),
	})
}
