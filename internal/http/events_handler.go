package http

import (
	"github.com/gin-gonic/gin"

	"github.com/packlabs/packvault/internal/http/httputil"
	"github.com/packlabs/packvault/internal/services/engine"
)

// EventsHandler exposes the engine's recent settlement events.
type EventsHandler struct {
	engineSvc *engine.Service
}

func NewEventsHandler(engineSvc *engine.Service) *EventsHandler {
	return &EventsHandler{engineSvc: engineSvc}
}

func (h *EventsHandler) Root() string {
	return "/events"
}

func (h *EventsHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("", h.listEvents)
}

func (h *EventsHandler) listEvents(c *gin.Context) {
	httputil.Success(c, h.engineSvc.RecentEvents())
}
