package handlers

import (
	"context"
	"net/http"

	"wellbook/middleware"
	"wellbook/models"
	"wellbook/services/booking"
	"wellbook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IdempotencyHeader lets a client retry a write without applying it twice.
const IdempotencyHeader = "Idempotency-Key"

// BookingHandler exposes the reservation engine.
type BookingHandler struct {
	Engine *booking.Engine
	Logger *zap.Logger
}

func NewBookingHandler(engine *booking.Engine, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{Engine: engine, Logger: logger}
}

// Reserve books a slot for the authenticated client.
func (h *BookingHandler) Reserve(c *gin.Context) {
	var req booking.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	req.ClientID = actor
	req.IdempotencyKey = c.GetHeader(IdempotencyHeader)

	res, err := h.Engine.Reserve(c.Request.Context(), req)
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// Get returns a booking to either of its parties.
func (h *BookingHandler) Get(c *gin.Context) {
	b, err := h.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	if !b.IsParty(middleware.CallerID(c)) {
		utils.WriteError(c, h.Logger, &models.ForbiddenError{Reason: "not a party to this booking"})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) Confirm(c *gin.Context) {
	h.transition(c, h.Engine.Confirm)
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	h.transition(c, h.Engine.Cancel)
}

func (h *BookingHandler) Complete(c *gin.Context) {
	h.transition(c, h.Engine.Complete)
}

func (h *BookingHandler) transition(c *gin.Context, apply func(ctx context.Context, id, actor string) (*booking.Result, error)) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	res, err := apply(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// actor returns the caller as a booking actor. The system actor is reserved for
// in-process jobs such as the completion sweep and is refused from tokens.
func (h *BookingHandler) actor(c *gin.Context) (string, bool) {
	id := middleware.CallerID(c)
	if id == models.SystemActor {
		h.Logger.Warn("token subject impersonates the system actor", zap.String("path", c.FullPath()))
		utils.WriteError(c, h.Logger, &models.ForbiddenError{Reason: "subject is reserved"})
		return "", false
	}
	return id, true
}
