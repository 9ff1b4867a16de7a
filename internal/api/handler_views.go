package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetBays handles GET /api/bays?level=N. Without level every bay is listed.
func (h *Handler) GetBays(c *gin.Context) {
	level := 0
	if raw := c.Query("level"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, errors.New("level must be a positive integer"))
			return
		}
		level = n
	}
	board, err := h.depot.BayBoard(c.Request.Context(), level)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

// GetAlerts handles GET /api/alerts.
func (h *Handler) GetAlerts(c *gin.Context) {
	alerts, err := h.depot.Alerts(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// GetPositions handles GET /api/positions.
func (h *Handler) GetPositions(c *gin.Context) {
	markers, err := h.depot.LatestPositions(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, markers)
}

// Reconcile handles POST /api/admin/reconcile.
func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.depot.ReconcileOccupancy(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
