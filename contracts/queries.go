package contracts

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/gpay-xe/models"
)

// FindExpiredContracts returns payment_created contracts whose quote deadline
// has passed but which have not been expired yet, oldest deadline first.
func (s *Store) FindExpiredContracts(ctx context.Context, now time.Time) ([]models.XeContract, error) {
	var out []models.XeContract
	err := s.db.WithContext(ctx).
		Where("quote_expiration_expires_at < ?", now).
		Where("quote_expiration_is_expired = ?", false).
		Where("overall_status = ?", models.OverallStatusPaymentCreated).
		Order("quote_expiration_expires_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired contracts: %w", err)
	}
	return out, nil
}

// FindPendingApprovals returns contracts eligible for an automatic approval
// attempt, with their transaction, user and recipient resolved.
func (s *Store) FindPendingApprovals(ctx context.Context) ([]models.XeContract, error) {
	var out []models.XeContract
	err := s.db.WithContext(ctx).
		Preload("Transaction").Preload("User").Preload("Recipient").
		Where("overall_status = ?", models.OverallStatusPaymentCreated).
		Where("quote_expiration_is_expired = ?", false).
		Where("quote_expiration_auto_approval_attempted = ?", false).
		Order("quote_expiration_expires_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find pending approvals: %w", err)
	}
	return out, nil
}
