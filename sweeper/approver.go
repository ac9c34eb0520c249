package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/gpay-xe/contracts"
	"github.com/yourusername/gpay-xe/models"
	"github.com/yourusername/gpay-xe/utils"
)

// Outcome is what became of one approval attempt.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeFailed   Outcome = "failed"
)

const (
	ErrorCodeTimeout       = "TIMEOUT"
	ErrorCodeProvider      = "PROVIDER_ERROR"
	ErrorCodeRejected      = "APPROVAL_REJECTED"
	DefaultApprovalTimeout = 20 * time.Second
)

// Approver calls XE to approve a contract and records the result through
// MarkApproved or MarkFailed.
type Approver struct {
	store   *contracts.Store
	client  utils.XEClientInterface
	timeout time.Duration
	now     func() time.Time
}

func NewApprover(store *contracts.Store, client utils.XEClientInterface, timeout time.Duration) *Approver {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	return &Approver{
		store:   store,
		client:  client,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Approve asks XE to approve c on behalf of userID. The caller must hold the
// contract's approval lock (ClaimAutoApproval or ClaimApproval). A provider
// error, a timeout or a Failed/Cancelled answer is recorded with stage
// contract_approval and reported as OutcomeFailed with a nil error. The
// returned error is reserved for persistence problems.
func (a *Approver) Approve(ctx context.Context, c *models.XeContract, userID uint, source string) (*models.XeContract, Outcome, error) {
	// Once claimed, the attempt runs to completion under its own timeout and
	// is recorded even if the caller is shutting down.
	ctx = context.WithoutCancel(ctx)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	start := time.Now()
	resp, err := a.client.ApproveContract(callCtx, c.Payment.ContractNumber)
	cancel()

	if err != nil {
		observe(start, "error")
		return a.fail(ctx, c.ID, describeProviderError(err), source)
	}
	observe(start, "ok")

	if status, ok := resp.Status(); ok && (status == models.PaymentStatusFailed || status == models.PaymentStatusCancelled) {
		return a.fail(ctx, c.ID, models.ErrorDescriptor{
			Message: fmt.Sprintf("contract approval returned status %s", status),
			Code:    ErrorCodeRejected,
			Details: resp,
		}, source)
	}

	updated, err := a.store.MarkApproved(ctx, c.ID, resp, userID, a.now())
	if err != nil {
		return nil, "", fmt.Errorf("failed to record approval of contract %d: %w", c.ID, err)
	}
	contractTransitionsTotal.WithLabelValues(string(models.OverallStatusPaymentApproved), source).Inc()
	return updated, OutcomeApproved, nil
}

func (a *Approver) fail(ctx context.Context, id uint, desc models.ErrorDescriptor, source string) (*models.XeContract, Outcome, error) {
	updated, err := a.store.MarkApprovalFailed(ctx, id, desc, a.now())
	if err != nil {
		return nil, "", fmt.Errorf("failed to record approval failure of contract %d: %w", id, err)
	}
	contractTransitionsTotal.WithLabelValues(string(models.OverallStatusFailed), source).Inc()
	return updated, OutcomeFailed, nil
}

func observe(start time.Time, outcome string) {
	providerLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func describeProviderError(err error) models.ErrorDescriptor {
	var xeErr *utils.XEError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorDescriptor{Message: "contract approval timed out", Code: ErrorCodeTimeout}
	case errors.As(err, &xeErr):
		code := xeErr.Code
		if code == "" {
			code = ErrorCodeProvider
		}
		desc := models.ErrorDescriptor{Message: xeErr.Message, Code: code}
		if len(xeErr.Details) > 0 {
			desc.Details = xeErr.Details
		}
		if desc.Message == "" {
			desc.Message = xeErr.Error()
		}
		return desc
	default:
		return models.ErrorDescriptor{Message: err.Error(), Code: ErrorCodeProvider}
	}
}
