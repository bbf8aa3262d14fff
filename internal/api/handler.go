// Package api exposes the booking escrow ledger over HTTP. Handlers only
// parse, delegate, and map error kinds to status codes; every rule lives in
// the ledger and its leaf packages.
package api

import (
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xiao99xiao/bookme-sub008/internal/admin"
	"github.com/xiao99xiao/bookme-sub008/internal/authz"
	"github.com/xiao99xiao/bookme-sub008/internal/fees"
	"github.com/xiao99xiao/bookme-sub008/internal/ledger"
	"github.com/xiao99xiao/bookme-sub008/internal/nonce"
	"github.com/xiao99xiao/bookme-sub008/internal/transfer"
)

// Handler wires the ledger and admin control onto a Gin group.
type Handler struct {
	ledger *ledger.Ledger
	admin  *admin.Control
	log    *zap.Logger
}

func NewHandler(l *ledger.Ledger, a *admin.Control, log *zap.Logger) *Handler {
	return &Handler{ledger: l, admin: a, log: log}
}

// Register mounts all routes. The auth middleware should already be applied
// to the group; handlers trust "wallet_address" on the context.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/bookings", h.handleCreate)
	rg.GET("/bookings/:id", h.handleGet)
	rg.POST("/bookings/:id/complete", h.handleComplete)
	rg.POST("/bookings/:id/cancel", h.handleCancel)
	rg.POST("/bookings/:id/emergency-cancel", h.handleEmergencyCancel)

	rg.POST("/admin/signer", h.handleRotateSigner)
	rg.POST("/admin/fee-wallet", h.handleRotateFeeWallet)
	rg.POST("/admin/pause", h.handlePause)
	rg.POST("/admin/unpause", h.handleUnpause)
}

func caller(c *gin.Context) common.Address {
	return common.HexToAddress(c.GetString("wallet_address"))
}

// ── Bookings ───────────────────────────────────────────────────────────────

type bookingAuthRequest struct {
	BookingID       string `json:"booking_id" binding:"required"`
	Customer        string `json:"customer" binding:"required"`
	Provider        string `json:"provider" binding:"required"`
	Inviter         string `json:"inviter"`
	Amount          string `json:"amount" binding:"required"`
	OriginalAmount  string `json:"original_amount" binding:"required"`
	PlatformFeeRate uint64 `json:"platform_fee_rate"`
	InviterFeeRate  uint64 `json:"inviter_fee_rate"`
	Expiry          int64  `json:"expiry" binding:"required"`
	Nonce           uint64 `json:"nonce"`
}

type createRequest struct {
	Authorization bookingAuthRequest `json:"authorization" binding:"required"`
	Signature     string             `json:"signature" binding:"required"`
}

func (h *Handler) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	amount, ok := new(big.Int).SetString(req.Authorization.Amount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	originalAmount, ok := new(big.Int).SetString(req.Authorization.OriginalAmount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid original_amount"})
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature encoding"})
		return
	}

	a := &authz.BookingAuthorization{
		BookingID:       common.HexToHash(req.Authorization.BookingID),
		Customer:        common.HexToAddress(req.Authorization.Customer),
		Provider:        common.HexToAddress(req.Authorization.Provider),
		Inviter:         common.HexToAddress(req.Authorization.Inviter),
		Amount:          amount,
		OriginalAmount:  originalAmount,
		PlatformFeeRate: req.Authorization.PlatformFeeRate,
		InviterFeeRate:  req.Authorization.InviterFeeRate,
		Expiry:          req.Authorization.Expiry,
		Nonce:           req.Authorization.Nonce,
	}

	b, err := h.ledger.CreateAndFund(c.Request.Context(), a, sig, caller(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bookingJSON(b))
}

func (h *Handler) handleGet(c *gin.Context) {
	b, err := h.ledger.Get(c.Request.Context(), common.HexToHash(c.Param("id")))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingJSON(b))
}

func (h *Handler) handleComplete(c *gin.Context) {
	id := common.HexToHash(c.Param("id"))
	if err := h.ledger.Complete(c.Request.Context(), id, caller(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(ledger.StatusCompleted)})
}

type cancellationAuthRequest struct {
	BookingID      string `json:"booking_id" binding:"required"`
	CustomerAmount string `json:"customer_amount" binding:"required"`
	ProviderAmount string `json:"provider_amount" binding:"required"`
	PlatformAmount string `json:"platform_amount" binding:"required"`
	InviterAmount  string `json:"inviter_amount" binding:"required"`
	Reason         string `json:"reason"`
	Expiry         int64  `json:"expiry" binding:"required"`
	Nonce          uint64 `json:"nonce"`
}

type cancelRequest struct {
	Authorization cancellationAuthRequest `json:"authorization" binding:"required"`
	Signature     string                  `json:"signature" binding:"required"`
}

func (h *Handler) handleCancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	amounts := make([]*big.Int, 4)
	for i, s := range []string{
		req.Authorization.CustomerAmount,
		req.Authorization.ProviderAmount,
		req.Authorization.PlatformAmount,
		req.Authorization.InviterAmount,
	} {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid distribution amount"})
			return
		}
		amounts[i] = v
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature encoding"})
		return
	}

	a := &authz.CancellationAuthorization{
		BookingID:      common.HexToHash(req.Authorization.BookingID),
		CustomerAmount: amounts[0],
		ProviderAmount: amounts[1],
		PlatformAmount: amounts[2],
		InviterAmount:  amounts[3],
		Reason:         req.Authorization.Reason,
		Expiry:         req.Authorization.Expiry,
		Nonce:          req.Authorization.Nonce,
	}

	id := common.HexToHash(c.Param("id"))
	if err := h.ledger.Cancel(c.Request.Context(), id, a, sig, caller(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(ledger.StatusCancelled)})
}

type emergencyCancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) handleEmergencyCancel(c *gin.Context) {
	var req emergencyCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	id := common.HexToHash(c.Param("id"))
	if err := h.ledger.EmergencyCancel(c.Request.Context(), id, req.Reason, caller(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(ledger.StatusCancelled)})
}

// ── Admin ──────────────────────────────────────────────────────────────────

type addressRequest struct {
	Address string `json:"address" binding:"required"`
}

func (h *Handler) handleRotateSigner(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.admin.RotateSigner(c.Request.Context(), caller(c), common.HexToAddress(req.Address)); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signer": h.admin.Signer().Hex()})
}

func (h *Handler) handleRotateFeeWallet(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.admin.RotateFeeWallet(c.Request.Context(), caller(c), common.HexToAddress(req.Address)); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_wallet": h.admin.FeeWallet().Hex()})
}

func (h *Handler) handlePause(c *gin.Context) {
	if err := h.admin.Pause(c.Request.Context(), caller(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *Handler) handleUnpause(c *gin.Context) {
	if err := h.admin.Unpause(c.Request.Context(), caller(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// ── Plumbing ───────────────────────────────────────────────────────────────

func bookingJSON(b *ledger.Booking) gin.H {
	return gin.H{
		"id":                b.ID.Hex(),
		"customer":          b.Customer.Hex(),
		"provider":          b.Provider.Hex(),
		"inviter":           b.Inviter.Hex(),
		"amount":            b.Amount.String(),
		"original_amount":   b.OriginalAmount.String(),
		"platform_fee_rate": b.PlatformFeeRate,
		"inviter_fee_rate":  b.InviterFeeRate,
		"status":            string(b.Status),
		"created_at":        b.CreatedAt,
	}
}

func (h *Handler) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrAuthorizationExpired),
		errors.Is(err, ledger.ErrInvalidParty),
		errors.Is(err, ledger.ErrInsufficientAmount),
		errors.Is(err, fees.ErrFeeRateExceedsLimit),
		errors.Is(err, fees.ErrInvalidDistribution),
		errors.Is(err, fees.ErrCancellationFeeExceedsLimit):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorizedCaller),
		errors.Is(err, authz.ErrInvalidSignature),
		errors.Is(err, admin.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrBookingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrBookingAlreadyExists),
		errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, nonce.ErrNonceReused):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrSystemPaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, transfer.ErrTransferFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Error("internal error", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func decodeSignature(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
