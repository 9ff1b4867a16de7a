package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type assignRequest struct {
	BayID string `json:"bay_id" binding:"required"`
	Plate string `json:"plate" binding:"required"`
}

// Assign handles POST /api/allocations.
func (h *Handler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.depot.Assign(c.Request.Context(), req.BayID, req.Plate)
	h.respond(c, http.StatusCreated, res, err)
}

type autoAssignRequest struct {
	Plate string `json:"plate" binding:"required"`
}

// AutoAssign handles POST /api/allocations/auto.
func (h *Handler) AutoAssign(c *gin.Context) {
	var req autoAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.depot.AutoAssign(c.Request.Context(), req.Plate)
	h.respond(c, http.StatusCreated, res, err)
}

// ConfirmParked handles POST /api/allocations/:id/confirm.
func (h *Handler) ConfirmParked(c *gin.Context) {
	res, err := h.depot.ConfirmParked(c.Request.Context(), c.Param("id"))
	h.respond(c, http.StatusOK, res, err)
}
