package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

var (
	ErrInvalidContract   = errors.New("invalid xe contract")
	ErrContractTerminal  = errors.New("xe contract is in a terminal state")
	ErrQuoteExpired      = errors.New("xe contract quote has expired")
	ErrQuoteNotExpired   = errors.New("xe contract quote has not expired")
	ErrInvalidTransition = errors.New("invalid xe contract transition")
	ErrInvalidErrorStage = errors.New("invalid error stage")
)

// ApprovalResponse is the opaque body returned by XE when a contract is
// approved. Only status, quoteStatus and settlementStatus are ever read.
type ApprovalResponse map[string]interface{}

func (r ApprovalResponse) stringField(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func (r ApprovalResponse) Status() (PaymentStatus, bool) {
	s, ok := r.stringField("status")
	return PaymentStatus(s), ok
}

func (r ApprovalResponse) QuoteStatus() (QuoteStatus, bool) {
	s, ok := r.stringField("quoteStatus")
	return QuoteStatus(s), ok
}

func (r ApprovalResponse) SettlementStatus() (SettlementStatus, bool) {
	s, ok := r.stringField("settlementStatus")
	return SettlementStatus(s), ok
}

// ErrorDescriptor describes a failure to record with MarkFailed.
type ErrorDescriptor struct {
	Message string
	Code    string
	Details interface{}
}

// IsTerminal reports whether the overall status can no longer change.
func (c *XeContract) IsTerminal() bool {
	return c.OverallStatus.Terminal()
}

// IsQuoteExpired reports whether the quote deadline has passed. A record
// without a deadline never expires.
func (c *XeContract) IsQuoteExpired(now time.Time) bool {
	return c.QuoteExpiration.ExpiresAt != nil && now.After(*c.QuoteExpiration.ExpiresAt)
}

// MarkExpired moves a payment_created record whose deadline has passed to
// expired. Calling it on a terminal record is a no-op and reports false.
func (c *XeContract) MarkExpired(now time.Time) (bool, error) {
	if c.IsTerminal() {
		return false, nil
	}
	if c.OverallStatus != OverallStatusPaymentCreated {
		return false, fmt.Errorf("%w: cannot expire from %s", ErrInvalidTransition, c.OverallStatus)
	}
	if !c.IsQuoteExpired(now) {
		return false, ErrQuoteNotExpired
	}

	c.QuoteExpiration.IsExpired = true
	c.OverallStatus = OverallStatusExpired
	c.Payment.QuoteStatus = QuoteStatusExpired
	c.ApprovalLockedAt = nil
	c.UpdatedAt = now
	return true, nil
}

// MarkApproved records a successful approval. It does not judge the response;
// callers route unsuccessful attempts through MarkFailed instead.
func (c *XeContract) MarkApproved(resp ApprovalResponse, userID uint, now time.Time) error {
	if c.IsTerminal() {
		return ErrContractTerminal
	}
	if c.QuoteExpiration.IsExpired {
		return ErrQuoteExpired
	}
	if c.OverallStatus != OverallStatusPaymentCreated {
		return fmt.Errorf("%w: cannot approve from %s", ErrInvalidTransition, c.OverallStatus)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode approval response: %w", err)
	}

	approvedAt := now
	approvedBy := userID
	c.Approval.ApprovedAt = &approvedAt
	c.Approval.ApprovedBy = &approvedBy
	c.Approval.RawResponse = datatypes.JSON(raw)
	if status, ok := resp.Status(); ok {
		c.Approval.UpdatedStatus = status
	}
	if quoteStatus, ok := resp.QuoteStatus(); ok {
		c.Approval.UpdatedQuoteStatus = quoteStatus
	}
	if settlementStatus, ok := resp.SettlementStatus(); ok {
		c.Approval.UpdatedSettlementStatus = settlementStatus
	}
	c.OverallStatus = OverallStatusPaymentApproved
	c.ApprovalLockedAt = nil
	c.UpdatedAt = now
	return nil
}

// MarkFailed records a failure and drives the record to failed. The retry
// counter is a counter, not a circuit breaker: every call adds exactly one.
// A record that is already terminal keeps its status but still gets the
// failure recorded.
func (c *XeContract) MarkFailed(stage ErrorStage, desc ErrorDescriptor, now time.Time) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidErrorStage, stage)
	}

	var details datatypes.JSON
	if desc.Details != nil {
		raw, err := json.Marshal(desc.Details)
		if err != nil {
			return fmt.Errorf("failed to encode error details: %w", err)
		}
		details = datatypes.JSON(raw)
	}

	ts := now
	c.ErrorInfo.LastError = ContractError{
		Stage:     stage,
		Message:   desc.Message,
		Code:      desc.Code,
		Details:   details,
		Timestamp: &ts,
	}
	c.ErrorInfo.HasErrors = true
	c.ErrorInfo.RetryCount++
	if !c.IsTerminal() {
		c.OverallStatus = OverallStatusFailed
	}
	c.ApprovalLockedAt = nil
	c.UpdatedAt = now
	return nil
}

// MarkAutoApprovalAttempted sets the one-way auto-approval flag. It reports
// false when the flag was already set.
func (c *XeContract) MarkAutoApprovalAttempted(now time.Time) bool {
	if c.QuoteExpiration.AutoApprovalAttempted {
		return false
	}
	attemptedAt := now
	c.QuoteExpiration.AutoApprovalAttempted = true
	c.QuoteExpiration.ApprovalAttemptedAt = &attemptedAt
	c.UpdatedAt = now
	return true
}
