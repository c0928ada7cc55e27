package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/genstudio/genstudio-be/internal/api/dto"
	"github.com/genstudio/genstudio-be/internal/domain"
	"github.com/genstudio/genstudio-be/internal/notify"
)

// CreditPackages maps purchasable package names to credit amounts.
var CreditPackages = map[string]int{
	"starter":    100,
	"pro":        500,
	"enterprise": 2000,
}

// UserHandler handles credit and transaction HTTP requests
type UserHandler struct {
	logger  *slog.Logger
	credits CreditStore
	hub     *notify.Hub
}

// NewUserHandler creates a new UserHandler instance
func NewUserHandler(deps *Dependencies) *UserHandler {
	return &UserHandler{
		logger:  deps.Logger,
		credits: deps.Credits,
		hub:     deps.Hub,
	}
}

// GetCredits handles GET /api/v1/users/credits
func (h *UserHandler) GetCredits(c *gin.Context) {
	userID := c.GetString(UserIDKey)

	balance, err := h.credits.GetBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error("Failed to get balance", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get credits"})
		return
	}

	c.JSON(http.StatusOK, dto.CreditsResponse{Credits: balance})
}

// ListTransactions handles GET /api/v1/users/transactions
func (h *UserHandler) ListTransactions(c *gin.Context) {
	var req dto.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Limit > 200 {
		req.Limit = 200
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	userID := c.GetString(UserIDKey)
	txns, err := h.credits.ListTransactions(c.Request.Context(), userID, req.Limit, req.Offset)
	if err != nil {
		h.logger.Error("Failed to list transactions", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list transactions"})
		return
	}

	out := make([]dto.TransactionDTO, len(txns))
	for i, txn := range txns {
		out[i] = dto.TransactionDTO{
			ID:            txn.ID,
			Kind:          txn.Kind,
			Amount:        txn.Amount,
			CorrelationID: txn.CorrelationID,
			CreatedAt:     txn.CreatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, dto.ListTransactionsResponse{Transactions: out})
}

// GrantCredits handles POST /api/v1/users/credits/grant
// Stands in for the payment webhook: resolves the purchased package,
// credits the ledger, and pushes the new balance to the user's streams.
func (h *UserHandler) GrantCredits(c *gin.Context) {
	var req dto.GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	amount, ok := CreditPackages[req.Package]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown credit package"})
		return
	}

	correlationID := req.PaymentID
	if correlationID == "" {
		correlationID = "grant-" + uuid.New().String()
	}

	userID := c.GetString(UserIDKey)
	if err := h.credits.Add(c.Request.Context(), userID, amount, correlationID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error("Failed to grant credits",
			slog.String("user_id", userID),
			slog.String("package", req.Package),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to grant credits"})
		return
	}

	balance, err := h.credits.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to read balance after grant", slog.String("error", err.Error()))
		balance = -1
	} else {
		h.hub.CreditsUpdate(userID, balance)
	}

	c.JSON(http.StatusOK, dto.GrantCreditsResponse{
		Credits: balance,
		Granted: amount,
		Package: req.Package,
	})
}
