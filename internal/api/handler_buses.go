package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bus-depot-backend/internal/parse"
)

type checkpointRequest struct {
	Name string `json:"name" binding:"required"`
}

// MoveToCheckpoint handles POST /api/buses/:plate/checkpoint.
func (h *Handler) MoveToCheckpoint(c *gin.Context) {
	var req checkpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.gate.MoveToCheckpoint(c.Request.Context(), c.Param("plate"), req.Name)
	h.respond(c, http.StatusOK, res, err)
}

type levelRequest struct {
	Direction string `json:"direction" binding:"required"`
}

// ChangeLevel handles POST /api/buses/:plate/level.
func (h *Handler) ChangeLevel(c *gin.Context) {
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	dir, err := parse.ParseDirection(req.Direction)
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.gate.ChangeLevel(c.Request.Context(), c.Param("plate"), dir)
	h.respond(c, http.StatusOK, res, err)
}

// MoveToAllocation handles POST /api/buses/:plate/move-to-allocation.
func (h *Handler) MoveToAllocation(c *gin.Context) {
	res, err := h.gate.MoveToAllocation(c.Request.Context(), c.Param("plate"))
	h.respond(c, http.StatusOK, res, err)
}

// MoveToOpenBay handles POST /api/buses/:plate/move-to-open-bay.
func (h *Handler) MoveToOpenBay(c *gin.Context) {
	res, err := h.gate.MoveToOpenBay(c.Request.Context(), c.Param("plate"))
	h.respond(c, http.StatusOK, res, err)
}

type preferencesRequest struct {
	NeedsCharging    bool `json:"needs_charging"`
	NeedsMaintenance bool `json:"needs_maintenance"`
}

// UpdatePreferences handles PUT /api/buses/:plate/preferences.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.depot.UpdatePreferences(c.Request.Context(), c.Param("plate"), req.NeedsCharging, req.NeedsMaintenance)
	h.respond(c, http.StatusOK, res, err)
}

// GetInstruction handles GET /api/buses/:plate/instruction.
func (h *Handler) GetInstruction(c *gin.Context) {
	in, err := h.depot.Instruction(c.Request.Context(), c.Param("plate"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

// Locate handles GET /api/buses/:plate/location.
func (h *Handler) Locate(c *gin.Context) {
	res, err := h.depot.Locate(c.Request.Context(), c.Param("plate"))
	h.respond(c, http.StatusOK, res, err)
}
