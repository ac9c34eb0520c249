package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/gpay-xe/contracts"
	"github.com/yourusername/gpay-xe/middleware"
	"github.com/yourusername/gpay-xe/models"
	"github.com/yourusername/gpay-xe/sweeper"
	"github.com/yourusername/gpay-xe/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	sourceManual     = "manual"
)

type ContractHandler struct {
	db       *gorm.DB
	store    *contracts.Store
	xeClient utils.XEClientInterface
	sweeper  *sweeper.Sweeper
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewContractHandler(db *gorm.DB, store *contracts.Store, xeClient utils.XEClientInterface, sw *sweeper.Sweeper, log logrus.FieldLogger) *ContractHandler {
	return &ContractHandler{
		db:       db,
		store:    store,
		xeClient: xeClient,
		sweeper:  sw,
		log:      log.WithField("component", "contracts_api"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateContractRequest struct {
	TransactionID uint            `json:"transaction_id" binding:"required"`
	RecipientID   uint            `json:"recipient_id" binding:"required"`
	SellCurrency  string          `json:"sell_currency" binding:"required,len=3"`
	BuyCurrency   string          `json:"buy_currency" binding:"required,len=3"`
	Amount        decimal.Decimal `json:"amount"`
	FixedCurrency string          `json:"fixed_currency"`
	Purpose       string          `json:"purpose"`
}

// CreateContract asks XE for a payment and stores the resulting contract in
// payment_created.
func (h *ContractHandler) CreateContract(c *gin.Context) {
	var req CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be greater than zero"})
		return
	}

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var transaction models.Transaction
	if err := h.db.WithContext(c.Request.Context()).First(&transaction, req.TransactionID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
		return
	}

	var recipient models.XeRecipient
	if err := h.db.WithContext(c.Request.Context()).First(&recipient, req.RecipientID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recipient not found"})
		return
	}
	if !recipient.IsActive {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Recipient is inactive"})
		return
	}

	fixed := req.FixedCurrency
	if fixed == "" {
		fixed = req.SellCurrency
	}
	clientReference := uuid.NewString()
	log := h.log.WithFields(logrus.Fields{
		"client_reference": clientReference,
		"transaction_id":   transaction.ID,
		"user_id":          userID,
	})

	resp, err := h.xeClient.CreatePayment(c.Request.Context(), utils.CreatePaymentRequest{
		ClientReference: clientReference,
		RecipientID:     recipient.ProviderID,
		SellCurrency:    req.SellCurrency,
		BuyCurrency:     req.BuyCurrency,
		Amount:          req.Amount,
		FixedCurrency:   fixed,
		Purpose:         req.Purpose,
	})
	if err != nil {
		log.WithError(err).Error("xe create payment failed")
		respondProviderError(c, err)
		return
	}

	contract := &models.XeContract{
		ClientReference: clientReference,
		TransactionID:   transaction.ID,
		UserID:          userID,
		RecipientID:     recipient.ID,
		Payment: models.XePayment{
			ContractNumber:    resp.ContractNumber,
			Status:            resp.Status,
			QuoteStatus:       resp.QuoteStatus,
			SettlementStatus:  resp.SettlementStatus,
			QuoteLegs:         resp.QuoteLegs,
			QuoteTime:         resp.QuoteTime,
			QuoteExpiresAt:    resp.QuoteExpiresAt,
			SettlementLegs:    resp.SettlementLegs,
			SettlementOptions: resp.SettlementOptions,
		},
		RawPaymentResponse: datatypes.JSON(resp.Raw),
	}
	if err := h.store.Create(c.Request.Context(), contract); err != nil {
		// XE already holds this contract; keep enough to reconcile it by hand.
		log.WithError(err).WithFields(logrus.Fields{
			"contract_number": resp.ContractNumber,
			"raw_response":    string(resp.Raw),
		}).Error("failed to store xe contract")
		respondStoreError(c, err)
		return
	}

	log.WithField("contract_number", contract.Payment.ContractNumber).Info("xe contract created")
	c.JSON(http.StatusCreated, contract)
}

func (h *ContractHandler) GetContract(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	contract, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (h *ContractHandler) GetContractByNumber(c *gin.Context) {
	contract, err := h.store.GetByContractNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// ListContracts filters by transaction_id or overall status.
func (h *ContractHandler) ListContracts(c *gin.Context) {
	if raw := c.Query("transaction_id"); raw != "" {
		transactionID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction_id"})
			return
		}
		list, err := h.store.ListByTransaction(c.Request.Context(), uint(transactionID))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch contracts"})
			return
		}
		c.JSON(http.StatusOK, list)
		return
	}

	status := models.OverallStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := h.store.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch contracts"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// ApproveContract approves a contract on behalf of the calling user. It takes
// the contract's approval lock first, so it never races an automatic attempt,
// and it does not touch the auto-approval flag.
func (h *ContractHandler) ApproveContract(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx := c.Request.Context()
	contract, err := h.store.Get(ctx, id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	log := h.log.WithFields(logrus.Fields{
		"contract_id":     contract.ID,
		"contract_number": contract.Payment.ContractNumber,
		"user_id":         userID,
	})

	if contract.OverallStatus != models.OverallStatusPaymentCreated {
		c.JSON(http.StatusConflict, gin.H{"error": "Contract is already " + string(contract.OverallStatus)})
		return
	}
	if now := h.now(); contract.IsQuoteExpired(now) {
		if _, _, err := h.store.MarkExpired(ctx, contract.ID, now); err != nil {
			log.WithError(err).Warn("failed to expire contract")
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Quote has expired"})
		return
	}

	claimed, err := h.store.ClaimApproval(ctx, contract.ID, h.now())
	if err != nil {
		log.WithError(err).Error("failed to claim approval")
		respondStoreError(c, err)
		return
	}
	if !claimed {
		c.JSON(http.StatusConflict, gin.H{"error": "Contract approval is already in progress"})
		return
	}

	updated, outcome, err := h.sweeper.Approver().Approve(ctx, contract, userID, sourceManual)
	if err != nil {
		log.WithError(err).Error("failed to record approval")
		respondStoreError(c, err)
		return
	}
	if outcome == sweeper.OutcomeFailed {
		log.WithField("code", updated.ErrorInfo.LastError.Code).Warn("manual approval failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "XE did not approve the contract",
			"code":     updated.ErrorInfo.LastError.Code,
			"contract": updated,
		})
		return
	}

	log.Info("contract approved")
	c.JSON(http.StatusOK, updated)
}

// TriggerSweep runs one sweep tick synchronously.
func (h *ContractHandler) TriggerSweep(c *gin.Context) {
	res, err := h.sweeper.Tick(c.Request.Context())
	if errors.Is(err, sweeper.ErrTickInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "A sweep is already running"})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("manual sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed", "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, contracts.ErrContractNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
	case errors.Is(err, contracts.ErrDuplicateContract):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, contracts.ErrConcurrentUpdate),
		errors.Is(err, models.ErrContractTerminal),
		errors.Is(err, models.ErrQuoteExpired),
		errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidContract):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func respondProviderError(c *gin.Context, err error) {
	var xeErr *utils.XEError
	if errors.As(err, &xeErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": xeErr.Message, "code": xeErr.Code})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "XE request failed"})
}
