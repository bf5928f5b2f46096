package handlers

import (
	"net/http"
	"strconv"

	"wellbook/middleware"
	"wellbook/models"
	"wellbook/services/tokens"
	"wellbook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenHandler exposes the ledger to users and administrators.
type TokenHandler struct {
	Ledger *tokens.Ledger
	Logger *zap.Logger
}

func NewTokenHandler(l *tokens.Ledger, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{Ledger: l, Logger: logger}
}

type spendInput struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type awardInput struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type missionInput struct {
	UserID    string `json:"userId"`
	MissionID string `json:"missionId"`
	Amount    int64  `json:"amount"`
}

// Balance returns the caller's token balance.
func (h *TokenHandler) Balance(c *gin.Context) {
	userID := middleware.CallerID(c)
	bal, err := h.Ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "balance": bal})
}

// Transactions returns the caller's ledger rows, newest first.
func (h *TokenHandler) Transactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.JSONError(c, http.StatusBadRequest, models.CodeValidation, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	txs, err := h.Ledger.Transactions(c.Request.Context(), middleware.CallerID(c), limit)
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	if txs == nil {
		txs = []models.TokenTransaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Spend debits the caller.
func (h *TokenHandler) Spend(c *gin.Context) {
	var in spendInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}
	receipt, err := h.Ledger.Spend(c.Request.Context(), tokens.Operation{
		UserID:         middleware.CallerID(c),
		Amount:         in.Amount,
		Reason:         in.Reason,
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// Award credits any user. Admin only.
func (h *TokenHandler) Award(c *gin.Context) {
	var in awardInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}
	receipt, err := h.Ledger.Award(c.Request.Context(), tokens.Operation{
		UserID:         in.UserID,
		Amount:         in.Amount,
		Reason:         in.Reason,
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	h.Logger.Info("admin token award",
		zap.String("admin_id", middleware.CallerID(c)),
		zap.String("user_id", in.UserID),
		zap.Int64("amount", in.Amount),
		zap.Bool("replayed", receipt.Replayed))
	c.JSON(http.StatusOK, receipt)
}

// CompleteMission credits a mission reward once per mission. Admin only.
func (h *TokenHandler) CompleteMission(c *gin.Context) {
	var in missionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.JSONError(c, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}
	receipt, err := h.Ledger.AwardMission(c.Request.Context(), in.UserID, in.MissionID, in.Amount)
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// Audit compares a user's balance with their ledger sum. Admin only.
func (h *TokenHandler) Audit(c *gin.Context) {
	audit, err := h.Ledger.Audit(c.Request.Context(), c.Param("userID"))
	if err != nil {
		utils.WriteError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": audit, "consistent": audit.Consistent()})
}
