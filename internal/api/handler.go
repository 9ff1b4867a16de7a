package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bus-depot-backend/internal/depot"
	"bus-depot-backend/internal/gate"
	"bus-depot-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	depot   *depot.Service
	gate    *gate.Protocol
	store   store.Store
	webpush *webpush.Options
	log     zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *depot.Service, proto *gate.Protocol, s store.Store, webpushOptions *webpush.Options, log zerolog.Logger) *Handler {
	return &Handler{
		depot:   svc,
		gate:    proto,
		store:   s,
		webpush: webpushOptions,
		log:     log,
	}
}

func statusFor(kind depot.Kind) int {
	switch kind {
	case depot.KindNotFound:
		return http.StatusNotFound
	case depot.KindConflict:
		return http.StatusConflict
	case depot.KindValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes a failed depot operation as {"message", "error"}.
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := depot.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	var de *depot.Error
	if !errors.As(err, &de) {
		msg = "Internal error: " + msg
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"message": msg, "error": string(kind)})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error(), "error": "bad_request"})
}

// respond writes a depot result or its failure.
func (h *Handler) respond(c *gin.Context, status int, res depot.Result, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(status, res)
}
