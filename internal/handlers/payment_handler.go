package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"coffee-payment-service/internal/services"

	"github.com/gin-gonic/gin"
)

// PaymentHandler exposes the payment flows over HTTP. Identity is read
// from the headers set by the upstream API gateway and passed into the
// orchestrator as an explicit RequestContext.
type PaymentHandler struct {
	Payments *services.PaymentService
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{Payments: payments}
}

func requestContext(c *gin.Context) services.RequestContext {
	userID, _ := strconv.Atoi(c.GetHeader("X-User-Id"))
	roleID, _ := strconv.Atoi(c.GetHeader("X-Role-Id"))
	return services.RequestContext{
		UserID:   userID,
		Email:    c.GetHeader("X-User-Email"),
		RoleID:   roleID,
		ClientIP: c.ClientIP(),
	}
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrPlanNotFound),
		errors.Is(err, services.ErrWalletNotFound),
		errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrFeeConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, services.ErrInvalidStateTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

type PlanCheckoutRequest struct {
	PlanID    uint   `json:"planId" binding:"required"`
	ReturnURL string `json:"returnUrl"`
	Locale    string `json:"locale"`
}

func (h *PaymentHandler) CreatePlanCheckout(c *gin.Context) {
	var req PlanCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Payments.CreatePlanCheckout(requestContext(c), req.PlanID, req.ReturnURL, req.Locale)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": result.URL, "paymentId": result.PaymentID})
}

type WalletTopupRequest struct {
	WalletID  uint    `json:"walletId" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gte=10000,lte=10000000"`
	ReturnURL string  `json:"returnUrl"`
	Locale    string  `json:"locale"`
}

func (h *PaymentHandler) CreateWalletTopup(c *gin.Context) {
	var req WalletTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Payments.CreateWalletTopup(requestContext(c), req.WalletID, req.Amount, req.ReturnURL, req.Locale)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": result.URL, "paymentId": result.PaymentID})
}

// HandleIPN receives the VNPay notification. The gateway retries until
// it sees a well-formed acknowledgment, so this always answers 200
// with the gateway response code carrying the outcome.
func (h *PaymentHandler) HandleIPN(c *gin.Context) {
	resp := h.Payments.HandleIPN(c.Request.URL.Query())
	c.JSON(http.StatusOK, resp)
}

type WalletPayRequest struct {
	PlanID      uint    `json:"planId" binding:"required"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

func (h *PaymentHandler) PayWithWallet(c *gin.Context) {
	var req WalletPayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Payments.PayWithWallet(requestContext(c), req.PlanID, req.Amount, req.Description)
	if err != nil {
		if errors.Is(err, services.ErrInsufficientFunds) {
			c.JSON(http.StatusPaymentRequired, result)
			return
		}
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type RecreateCheckoutRequest struct {
	ReturnURL string `json:"returnUrl"`
	Locale    string `json:"locale"`
}

func (h *PaymentHandler) RecreateCheckout(c *gin.Context) {
	paymentID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment id"})
		return
	}

	var req RecreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Payments.RecreateCheckout(requestContext(c), uint(paymentID), req.ReturnURL, req.Locale)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": result.URL, "paymentId": result.PaymentID})
}
