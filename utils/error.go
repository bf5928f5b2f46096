package utils

import (
	"errors"
	"net/http"

	"wellbook/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse defines the structure of error responses.
type ErrorResponse struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Details  string   `json:"details,omitempty"`
	Occupied []string `json:"occupied,omitempty"`
}

// ErrorHandler catches panics and returns a structured 500.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Unhandled panic", zap.Any("error", err), zap.String("path", c.FullPath()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Code:    "internal_error",
					Message: "Internal Server Error",
					Details: "An unexpected error occurred. Please try again later.",
				})
			}
		}()
		c.Next()
	}
}

// JSONError sends a standardized JSON error response.
func JSONError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message})
}

// WriteError maps a service error onto its HTTP status and response body.
// Internal ledger and store details are never echoed to the client.
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		ve  *models.ValidationError
		ce  *models.ConflictError
		ife *models.InsufficientFundsError
		sue *models.StoreUnavailableError
		nfe *models.NotFoundError
		te  *models.TransitionError
		fe  *models.ForbiddenError
	)

	switch {
	case errors.As(err, &ve):
		resp := ErrorResponse{Code: models.CodeValidation, Message: ve.Message, Details: ve.Field}
		c.AbortWithStatusJSON(http.StatusBadRequest, resp)
	case errors.As(err, &ce):
		occupied := ce.Occupied
		if occupied == nil {
			occupied = []string{}
		}
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{
			Code:     models.CodeConflict,
			Message:  "That time was just booked. Please pick another slot.",
			Occupied: occupied,
		})
	case errors.As(err, &ife):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, ErrorResponse{
			Code:    models.CodeInsufficientFunds,
			Message: "Not enough tokens for this action.",
		})
	case errors.As(err, &nfe):
		JSONError(c, http.StatusNotFound, models.CodeNotFound, nfe.Resource+" not found")
	case errors.As(err, &te):
		JSONError(c, http.StatusConflict, models.CodeTransition, te.Error())
	case errors.As(err, &fe):
		JSONError(c, http.StatusForbidden, models.CodeForbidden, fe.Reason)
	case errors.As(err, &sue):
		logger.Warn("store unavailable", zap.String("op", sue.Op), zap.Error(sue.Err))
		JSONError(c, http.StatusServiceUnavailable, models.CodeStoreUnavailable, "Service temporarily unavailable, please try again.")
	default:
		logger.Error("unexpected error", zap.Error(err), zap.String("path", c.FullPath()))
		JSONError(c, http.StatusInternalServerError, "internal_error", "Internal Server Error")
	}
}
