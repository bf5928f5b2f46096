package handlers

import (
	"net/http"
	"time"

	"wellbook/models"
	"wellbook/services/availability"
	"wellbook/services/booking"
	"wellbook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AvailabilityHandler serves the calendar view and the live slot check.
type AvailabilityHandler struct {
	Index  *availability.Index
	Engine *booking.Engine
	Logger *zap.Logger
}

func NewAvailabilityHandler(idx *availability.Index, engine *booking.Engine, logger *zap.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{Index: idx, Engine: engine, Logger: logger}
}

// GetSlots returns every catalog label for the date with its availability.
// The answer comes from the cached index and may lag the store briefly.
func (h *AvailabilityHandler) GetSlots(c *gin.Context) {
	providerID := c.Param("providerID")
	date := c.Query("date")
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		utils.JSONError(c, http.StatusBadRequest, models.CodeValidation, "date must be YYYY-MM-DD")
		return
	}

	view, err := h.Index.View(c.Request.Context(), h.Engine.Catalog(), providerID, date)
	if err != nil {
		utils.WriteError(c, h.Logger, models.Unavailable("load availability", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"providerId": providerID,
		"date":       date,
		"slots":      view,
	})
}

// CheckSlot asks the store directly whether one slot is free.
func (h *AvailabilityHandler) CheckSlot(c *gin.Context) {
	providerID := c.Param("providerID")
	date := c.Query("date")
	label := c.Query("time")

	free, err := h.Engine.CheckAvailable(c.Request.Context(), providerID, date, label)
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"providerId": providerID,
		"date":       date,
		"time":       label,
		"available":  free,
	})
}
