package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bus-depot-backend/internal/gate"
)

type gateEventRequest struct {
	Plate string `json:"plate" binding:"required"`
	Gate  string `json:"gate" binding:"required"`
}

// StartGateEvent handles POST /api/gate/events.
func (h *Handler) StartGateEvent(c *gin.Context) {
	var req gateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	g, ok := gate.ParseGate(req.Gate)
	if !ok {
		badRequest(c, errors.New(`gate must be "entry" or "exit"`))
		return
	}
	res, err := h.gate.StartGateEvent(c.Request.Context(), req.Plate, g)
	h.respond(c, http.StatusAccepted, res, err)
}

type identifyRequest struct {
	Plate  string `json:"plate"`
	Method string `json:"method"`
}

// Identify handles POST /api/gate/identify. Method "rfid" triggers the fallback
// path by hand; anything else is ANPR.
func (h *Handler) Identify(c *gin.Context) {
	var req identifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	identify := h.gate.IdentifyPrimary
	if req.Method == "rfid" {
		identify = h.gate.IdentifyFallback
	}
	res, err := identify(c.Request.Context(), req.Plate)
	h.respond(c, http.StatusOK, res, err)
}

// ListSessions handles GET /api/gate/sessions.
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.gate.Sessions())
}
