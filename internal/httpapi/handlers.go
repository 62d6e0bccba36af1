package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"call-ledger/internal/audit"
	"call-ledger/internal/auth"
	"call-ledger/internal/billing"
	"call-ledger/internal/funding"
	"call-ledger/internal/ledger"
	"call-ledger/internal/rbac"
	"call-ledger/internal/reporting"
	"call-ledger/internal/wallet"
	"call-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Billing   *billing.Service
	Funding   *funding.Service
	Reporting *reporting.Service
	Audit     *audit.Service
}

// retryAfterSeconds is advertised to invokers on ledger_busy.
const retryAfterSeconds = 1

// StatusClientClosedRequest answers a request whose context ended before the
// ledger finished. Nothing was committed.
const StatusClientClosedRequest = 499

// --- Auth ---

type loginRequest struct {
	UserID  string `json:"user_id"`
	Service string `json:"service"`
	Role    string `json:"role"`
}

// Login issues a JWT token pair for a collaborator service.
//
// NOTE: Only mounted outside production. Real deployments provision service tokens out of band.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Service == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, service, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Service, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Settlements ---

func (h Handlers) SettleCall(c *gin.Context) {
	if h.Billing == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}
	var req billing.SettleCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json", "kind": ledger.KindInvalidInput})
		return
	}
	res, err := h.Billing.SettleCall(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) DeductPlan(c *gin.Context) {
	if h.Billing == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}
	var req billing.DeductPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json", "kind": ledger.KindInvalidInput})
		return
	}
	res, err := h.Billing.DeductPlanMinutes(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Funding ---

type startFundingRequest struct {
	MerchantTransactionID string `json:"merchant_transaction_id"`
	UserID                string `json:"user_id"`
	PlanID                string `json:"plan_id,omitempty"`
	Amount                int64  `json:"amount"`
}

// StartFunding registers a payment the gateway is about to collect.
func (h Handlers) StartFunding(c *gin.Context) {
	if h.Funding == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "funding not configured"})
		return
	}
	var req startFundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json", "kind": ledger.KindInvalidInput})
		return
	}
	p, err := h.Funding.StartFunding(c.Request.Context(), wallet.PendingTransaction{
		MerchantTransactionID: req.MerchantTransactionID,
		UserID:                req.UserID,
		PlanID:                req.PlanID,
		Amount:                req.Amount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// PaymentWebhook applies a gateway confirmation. Redelivery is safe.
func (h Handlers) PaymentWebhook(c *gin.Context) {
	if h.Funding == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "funding not configured"})
		return
	}
	var ev funding.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json", "kind": ledger.KindInvalidInput})
		return
	}
	res, err := h.Funding.ApplyFunding(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Admin views ---

func (h Handlers) GetWallet(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	snap, err := h.Reporting.WalletSnapshot(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h Handlers) GetEarnings(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	snap, err := h.Reporting.EarningSnapshot(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetSummary aggregates one user's ledger activity over ?from=&to= (RFC 3339).
func (h Handlers) GetSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	from, errFrom := time.Parse(time.RFC3339, c.Query("from"))
	to, errTo := time.Parse(time.RFC3339, c.Query("to"))
	if errFrom != nil || errTo != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC 3339 timestamps", "kind": ledger.KindInvalidInput})
		return
	}
	out, err := h.Reporting.SettlementSummary(c.Request.Context(), reporting.SettlementSummaryRequest{
		UserID: c.Param("user_id"),
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) GetRates(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	tbl, err := h.Reporting.ListRates(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tbl)
}

// GetAudit lists recent audit events about a user. ?limit= caps the page.
func (h Handlers) GetAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer", "kind": ledger.KindInvalidInput})
			return
		}
		limit = n
	}
	evs, err := h.Audit.History(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// --- Errors ---

// StatusFor maps a ledger failure to its HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, reporting.ErrInvalidRequest) || errors.Is(err, audit.ErrInvalidEvent) {
		return http.StatusBadRequest
	}
	switch ledger.Kind(err) {
	case ledger.KindInvalidInput:
		return http.StatusBadRequest
	case ledger.KindRateNotFound, ledger.KindPlanNotFound, ledger.KindNotFound, ledger.KindUnknownTransaction:
		return http.StatusNotFound
	case ledger.KindPlanExpired, ledger.KindPlanExhausted:
		return http.StatusConflict
	case ledger.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case ledger.KindLedgerBusy, ledger.KindConcurrentModification:
		return http.StatusServiceUnavailable
	case ledger.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	kind := ledger.Kind(err)
	if status == http.StatusBadRequest {
		kind = ledger.KindInvalidInput
	}
	c.Set("error_kind", kind)

	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	msg := err.Error()
	if status == StatusClientClosedRequest {
		logger.FromGin(c).Info("ledger request abandoned", "err", err)
	}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("ledger request failed", "err", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}

// Convenience middleware bundles.

func RequireServiceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireService(), rbac.RequireAnyRole(roles...)}
}
