package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/yourusername/gpay-xe/contracts"
	"github.com/yourusername/gpay-xe/middleware"
	"github.com/yourusername/gpay-xe/models"
	"gorm.io/gorm"
)

// TransactionHandler manages the marketplace transactions and XE recipients
// that contracts link to.
type TransactionHandler struct {
	db    *gorm.DB
	store *contracts.Store
}

func NewTransactionHandler(db *gorm.DB, store *contracts.Store) *TransactionHandler {
	return &TransactionHandler{db: db, store: store}
}

type CreateTransactionRequest struct {
	FreelancerID uint            `json:"freelancer_id" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency" binding:"required,len=3"`
	Description  string          `json:"description"`
}

func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
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

	transaction := models.Transaction{
		PayerID:      userID,
		FreelancerID: req.FreelancerID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       "pending",
		Description:  req.Description,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&transaction).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create transaction"})
		return
	}

	c.JSON(http.StatusCreated, transaction)
}

// GetTransaction returns the transaction together with every XE contract
// raised for it.
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var transaction models.Transaction
	if err := h.db.WithContext(c.Request.Context()).First(&transaction, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
		return
	}

	list, err := h.store.ListByTransaction(c.Request.Context(), transaction.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch contracts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction":  transaction,
		"xe_contracts": list,
	})
}

type CreateRecipientRequest struct {
	ProviderID        string `json:"provider_id" binding:"required"`
	AccountName       string `json:"account_name" binding:"required"`
	BankCountry       string `json:"bank_country" binding:"omitempty,len=2"`
	Currency          string `json:"currency" binding:"required,len=3"`
	AccountDescriptor string `json:"account_descriptor"`
}

// CreateRecipient registers a payee XE already knows under ProviderID.
func (h *TransactionHandler) CreateRecipient(c *gin.Context) {
	var req CreateRecipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	recipient := models.XeRecipient{
		UserID:            userID,
		ProviderID:        req.ProviderID,
		AccountName:       req.AccountName,
		BankCountry:       req.BankCountry,
		Currency:          req.Currency,
		AccountDescriptor: req.AccountDescriptor,
		IsActive:          true,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&recipient).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Recipient already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create recipient"})
		return
	}

	c.JSON(http.StatusCreated, recipient)
}

func (h *TransactionHandler) GetRecipient(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var recipient models.XeRecipient
	if err := h.db.WithContext(c.Request.Context()).First(&recipient, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recipient not found"})
		return
	}

	c.JSON(http.StatusOK, recipient)
}
