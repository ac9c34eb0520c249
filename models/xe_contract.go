package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentStatus is the contract status reported by XE.
type PaymentStatus string

const (
	PaymentStatusContractUnconfirmed PaymentStatus = "ContractUnconfirmed"
	PaymentStatusQuoteRequired       PaymentStatus = "QuoteRequired"
	PaymentStatusConfirmed           PaymentStatus = "Confirmed"
	PaymentStatusSettled             PaymentStatus = "Settled"
	PaymentStatusFailed              PaymentStatus = "Failed"
	PaymentStatusCancelled           PaymentStatus = "Cancelled"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusContractUnconfirmed, PaymentStatusQuoteRequired, PaymentStatusConfirmed,
		PaymentStatusSettled, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// QuoteStatus is the validity of the quote attached to a contract.
type QuoteStatus string

const (
	QuoteStatusValid   QuoteStatus = "Valid"
	QuoteStatusExpired QuoteStatus = "Expired"
	QuoteStatusNotSet  QuoteStatus = "NotSet"
)

func (s QuoteStatus) Valid() bool {
	switch s {
	case QuoteStatusValid, QuoteStatusExpired, QuoteStatusNotSet:
		return true
	}
	return false
}

// SettlementStatus is the provider's view of fund settlement.
type SettlementStatus string

const (
	SettlementStatusNotSettled SettlementStatus = "NotSettled"
	SettlementStatusSettled    SettlementStatus = "Settled"
	SettlementStatusFailed     SettlementStatus = "Failed"
)

func (s SettlementStatus) Valid() bool {
	switch s {
	case SettlementStatusNotSettled, SettlementStatusSettled, SettlementStatusFailed:
		return true
	}
	return false
}

// OverallStatus is the platform-side state that drives transitions and the
// reconciliation queries. It may diverge from the provider statuses.
type OverallStatus string

const (
	OverallStatusPaymentCreated    OverallStatus = "payment_created"
	OverallStatusPaymentApproved   OverallStatus = "payment_approved"
	OverallStatusSettlementPending OverallStatus = "settlement_pending"
	OverallStatusCompleted         OverallStatus = "completed"
	OverallStatusFailed            OverallStatus = "failed"
	OverallStatusExpired           OverallStatus = "expired"
	OverallStatusCancelled         OverallStatus = "cancelled"
)

func (s OverallStatus) Valid() bool {
	switch s {
	case OverallStatusPaymentCreated, OverallStatusPaymentApproved, OverallStatusSettlementPending,
		OverallStatusCompleted, OverallStatusFailed, OverallStatusExpired, OverallStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no lifecycle operation may move the status further.
func (s OverallStatus) Terminal() bool {
	switch s {
	case OverallStatusCompleted, OverallStatusFailed, OverallStatusExpired, OverallStatusCancelled:
		return true
	}
	return false
}

// ErrorStage names the phase in which a failure was recorded.
type ErrorStage string

const (
	ErrorStagePaymentCreation  ErrorStage = "payment_creation"
	ErrorStageContractApproval ErrorStage = "contract_approval"
	ErrorStageSettlement       ErrorStage = "settlement"
)

func (s ErrorStage) Valid() bool {
	switch s {
	case ErrorStagePaymentCreation, ErrorStageContractApproval, ErrorStageSettlement:
		return true
	}
	return false
}

// QuoteLeg is one currency-pair conversion in a quote.
type QuoteLeg struct {
	SellCurrency  string          `json:"sell_currency"`
	SellAmount    decimal.Decimal `json:"sell_amount"`
	BuyCurrency   string          `json:"buy_currency"`
	BuyAmount     decimal.Decimal `json:"buy_amount"`
	Rate          decimal.Decimal `json:"rate"`
	InverseRate   decimal.Decimal `json:"inverse_rate"`
	ValueDate     string          `json:"value_date,omitempty"`
	EffectiveDate *time.Time      `json:"effective_date,omitempty"`
}

// SettlementLeg describes how and where funds are delivered.
type SettlementLeg struct {
	SettlementDate           string          `json:"settlement_date,omitempty"`
	DestinationAccount       string          `json:"destination_account"`
	SettlementMethod         string          `json:"settlement_method"`
	Fees                     decimal.Decimal `json:"fees"`
	NetSettlementAmount      decimal.Decimal `json:"net_settlement_amount"`
	Margin                   decimal.Decimal `json:"margin"`
	BalanceSettlementAmount  decimal.Decimal `json:"balance_settlement_amount"`
	BalanceSettlementDate    string          `json:"balance_settlement_date,omitempty"`
	SettlementCurrency       string          `json:"settlement_currency,omitempty"`
	DestinationAccountHolder string          `json:"destination_account_holder,omitempty"`
}

// SettlementOption advertises a settlement method XE will accept.
type SettlementOption struct {
	Method      string `json:"method"`
	IsAvailable bool   `json:"is_available"`
	Currency    string `json:"currency,omitempty"`
}

// XePayment is the provider-side snapshot of the contract.
type XePayment struct {
	ContractNumber    string                                `gorm:"uniqueIndex:idx_xe_contracts_contract_number;size:64;not null" json:"contract_number"`
	Status            PaymentStatus                         `gorm:"size:32;not null;default:'ContractUnconfirmed'" json:"status"`
	QuoteStatus       QuoteStatus                           `gorm:"size:16;not null;default:'Valid'" json:"quote_status"`
	SettlementStatus  SettlementStatus                      `gorm:"size:16;not null;default:'NotSettled'" json:"settlement_status"`
	QuoteLegs         datatypes.JSONSlice[QuoteLeg]         `json:"quote_legs"`
	QuoteTime         *time.Time                            `json:"quote_time"`
	QuoteExpiresAt    *time.Time                            `json:"quote_expires_at"`
	SettlementLegs    datatypes.JSONSlice[SettlementLeg]    `json:"settlement_legs"`
	SettlementOptions datatypes.JSONSlice[SettlementOption] `json:"settlement_options"`
}

// ContractApproval is populated once the contract has been approved.
type ContractApproval struct {
	ApprovedAt              *time.Time       `json:"approved_at"`
	ApprovedBy              *uint            `json:"approved_by"`
	UpdatedStatus           PaymentStatus    `gorm:"size:32" json:"updated_status,omitempty"`
	UpdatedQuoteStatus      QuoteStatus      `gorm:"size:16" json:"updated_quote_status,omitempty"`
	UpdatedSettlementStatus SettlementStatus `gorm:"size:16" json:"updated_settlement_status,omitempty"`
	RawResponse             datatypes.JSON   `json:"raw_response,omitempty"`
}

// QuoteExpiration tracks the approval window of the quote.
type QuoteExpiration struct {
	ExpiresAt             *time.Time `gorm:"index:idx_xe_contracts_sweep_expired,priority:3" json:"expires_at"`
	IsExpired             bool       `gorm:"not null;default:false;index:idx_xe_contracts_sweep_expired,priority:2;index:idx_xe_contracts_sweep_pending,priority:2" json:"is_expired"`
	AutoApprovalAttempted bool       `gorm:"not null;default:false;index:idx_xe_contracts_sweep_pending,priority:3" json:"auto_approval_attempted"`
	ApprovalAttemptedAt   *time.Time `json:"approval_attempted_at"`
}

// ContractError is the most recent failure recorded against a contract.
type ContractError struct {
	Stage     ErrorStage     `gorm:"size:32" json:"stage,omitempty"`
	Message   string         `gorm:"type:text" json:"message,omitempty"`
	Code      string         `gorm:"size:64" json:"code,omitempty"`
	Details   datatypes.JSON `json:"details,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// ErrorInfo aggregates failure bookkeeping. RetryCount only ever grows.
type ErrorInfo struct {
	HasErrors  bool          `gorm:"not null;default:false" json:"has_errors"`
	LastError  ContractError `gorm:"embedded;embeddedPrefix:last_" json:"last_error"`
	RetryCount int           `gorm:"not null;default:0" json:"retry_count"`
}

// XeContract is the durable record of one cross-currency payment contract.
// Records are financial audit data and are never deleted.
type XeContract struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `gorm:"not null;default:0" json:"version"`

	ClientReference string `gorm:"uniqueIndex:idx_xe_contracts_client_reference;size:64;not null" json:"client_reference"`

	TransactionID uint         `gorm:"index;not null" json:"transaction_id"`
	Transaction   *Transaction `gorm:"foreignKey:TransactionID" json:"transaction,omitempty"`
	UserID        uint         `gorm:"index;not null" json:"user_id"`
	User          *User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
	RecipientID   uint         `gorm:"index;not null" json:"recipient_id"`
	Recipient     *XeRecipient `gorm:"foreignKey:RecipientID" json:"recipient,omitempty"`

	Payment            XePayment      `gorm:"embedded;embeddedPrefix:payment_" json:"payment"`
	RawPaymentResponse datatypes.JSON `json:"raw_payment_response,omitempty"`

	OverallStatus OverallStatus `gorm:"size:32;not null;default:'payment_created';index:idx_xe_contracts_sweep_expired,priority:1;index:idx_xe_contracts_sweep_pending,priority:1" json:"overall_status"`

	Approval        ContractApproval `gorm:"embedded;embeddedPrefix:approval_" json:"approval"`
	QuoteExpiration QuoteExpiration  `gorm:"embedded;embeddedPrefix:quote_expiration_" json:"quote_expiration"`
	ErrorInfo       ErrorInfo        `gorm:"embedded;embeddedPrefix:error_" json:"error_info"`

	// ApprovalLockedAt is set while an approval call to XE is in flight.
	ApprovalLockedAt *time.Time `json:"approval_locked_at,omitempty"`
}

// TableName overrides the table name
func (XeContract) TableName() string {
	return "xe_contracts"
}

// Validate checks identity and enumeration fields before the record is stored.
func (c *XeContract) Validate() error {
	if c.ClientReference == "" {
		return fmt.Errorf("%w: client reference is required", ErrInvalidContract)
	}
	if c.Payment.ContractNumber == "" {
		return fmt.Errorf("%w: contract number is required", ErrInvalidContract)
	}
	if c.TransactionID == 0 || c.UserID == 0 || c.RecipientID == 0 {
		return fmt.Errorf("%w: transaction, user and recipient are required", ErrInvalidContract)
	}
	if !c.Payment.Status.Valid() {
		return fmt.Errorf("%w: payment status %q", ErrInvalidContract, c.Payment.Status)
	}
	if !c.Payment.QuoteStatus.Valid() {
		return fmt.Errorf("%w: quote status %q", ErrInvalidContract, c.Payment.QuoteStatus)
	}
	if !c.Payment.SettlementStatus.Valid() {
		return fmt.Errorf("%w: settlement status %q", ErrInvalidContract, c.Payment.SettlementStatus)
	}
	if !c.OverallStatus.Valid() {
		return fmt.Errorf("%w: overall status %q", ErrInvalidContract, c.OverallStatus)
	}
	return nil
}

// ApplyDefaults fills the default status values of a freshly created record.
func (c *XeContract) ApplyDefaults() {
	if c.Payment.Status == "" {
		c.Payment.Status = PaymentStatusContractUnconfirmed
	}
	if c.Payment.QuoteStatus == "" {
		c.Payment.QuoteStatus = QuoteStatusValid
	}
	if c.Payment.SettlementStatus == "" {
		c.Payment.SettlementStatus = SettlementStatusNotSettled
	}
	if c.OverallStatus == "" {
		c.OverallStatus = OverallStatusPaymentCreated
	}
	if c.QuoteExpiration.ExpiresAt == nil && c.Payment.QuoteExpiresAt != nil {
		expiresAt := *c.Payment.QuoteExpiresAt
		c.QuoteExpiration.ExpiresAt = &expiresAt
	}
}
