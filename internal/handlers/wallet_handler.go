package handlers

import (
	"net/http"
	"strconv"
	"time"

	"coffee-payment-service/internal/models"
	"coffee-payment-service/internal/services"

	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	Wallets *services.WalletService
	Fees    *services.FeeService
}

func NewWalletHandler(wallets *services.WalletService, fees *services.FeeService) *WalletHandler {
	return &WalletHandler{Wallets: wallets, Fees: fees}
}

// GetBalance returns the caller's wallet, creating it lazily.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	ctx := requestContext(c)
	if ctx.UserID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	wallet, err := h.Wallets.GetOrCreate(ctx.UserID, models.WalletTypeUser)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"walletId": wallet.ID,
		"balance":  wallet.Balance,
	})
}

// GetTransactions lists the caller's wallet history.
func (h *WalletHandler) GetTransactions(c *gin.Context) {
	ctx := requestContext(c)
	if ctx.UserID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	wallet, err := h.Wallets.FindUserWallet(ctx.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
		return
	}

	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.Wallets.GetWalletTransactions(services.WalletTransactionsDTO{
		WalletID:  wallet.ID,
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type SaveFeeConfigRequest struct {
	ID            uint     `json:"id"`
	RoleID        int      `json:"roleId" binding:"required"`
	FeeType       string   `json:"feeType" binding:"required"`
	Amount        float64  `json:"amount" binding:"required,gt=0"`
	MinTons       *float64 `json:"minTons"`
	MaxTons       *float64 `json:"maxTons"`
	EffectiveFrom string   `json:"effectiveFrom" binding:"required"`
	EffectiveTo   string   `json:"effectiveTo"`
	Active        bool     `json:"active"`
}

// SaveFeeConfiguration upserts a fee rule.
func (h *WalletHandler) SaveFeeConfiguration(c *gin.Context) {
	var req SaveFeeConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	from, err := time.Parse("2006-01-02", req.EffectiveFrom)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid effectiveFrom date"})
		return
	}
	var to *time.Time
	if req.EffectiveTo != "" {
		t, err := time.Parse("2006-01-02", req.EffectiveTo)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid effectiveTo date"})
			return
		}
		to = &t
	}

	res, err := h.Fees.SaveConfiguration(services.SaveFeeConfigDTO{
		ID:            req.ID,
		RoleID:        req.RoleID,
		FeeType:       req.FeeType,
		Amount:        req.Amount,
		MinTons:       req.MinTons,
		MaxTons:       req.MaxTons,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Active:        req.Active,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListFeeConfigurations lists fee rules, optionally filtered by role.
func (h *WalletHandler) ListFeeConfigurations(c *gin.Context) {
	roleID, _ := strconv.Atoi(c.Query("roleId"))
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.Fees.ListConfigurations(roleID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
