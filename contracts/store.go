package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/gpay-xe/models"
	"github.com/yourusername/gpay-xe/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApprovalLockTTL bounds how long an approval lock is honoured. A lock older
// than this was left by a caller that died mid-approval and may be taken over.
const ApprovalLockTTL = 5 * time.Minute

var (
	ErrContractNotFound  = errors.New("xe contract not found")
	ErrDuplicateContract = errors.New("xe contract with this client reference or contract number already exists")
	ErrConcurrentUpdate  = errors.New("xe contract was modified concurrently")
)

// Store persists XE contracts. Every mutation is a read-modify-write guarded
// by the record's version column, so at most one writer wins per record.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create validates and inserts a new contract. Unique-key collisions are
// reported as ErrDuplicateContract; existing rows are never overwritten.
func (s *Store) Create(ctx context.Context, c *models.XeContract) error {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}
	if err := utils.ValidateSettlementLegs(c.Payment.SettlementLegs); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidContract, err)
	}

	var existing int64
	err := s.db.WithContext(ctx).Model(&models.XeContract{}).
		Where("client_reference = ? OR payment_contract_number = ?", c.ClientReference, c.Payment.ContractNumber).
		Count(&existing).Error
	if err != nil {
		return fmt.Errorf("failed to check contract uniqueness: %w", err)
	}
	if existing > 0 {
		return ErrDuplicateContract
	}

	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateContract
		}
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uint) (*models.XeContract, error) {
	var c models.XeContract
	err := s.db.WithContext(ctx).
		Preload("Transaction").Preload("User").Preload("Recipient").
		First(&c, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) GetByContractNumber(ctx context.Context, contractNumber string) (*models.XeContract, error) {
	var c models.XeContract
	err := s.db.WithContext(ctx).Where("payment_contract_number = ?", contractNumber).First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) GetByClientReference(ctx context.Context, clientReference string) (*models.XeContract, error) {
	var c models.XeContract
	err := s.db.WithContext(ctx).Where("client_reference = ?", clientReference).First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) ListByTransaction(ctx context.Context, transactionID uint) ([]models.XeContract, error) {
	var out []models.XeContract
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts for transaction %d: %w", transactionID, err)
	}
	return out, nil
}

// List returns contracts, newest first, optionally filtered by overall status.
func (s *Store) List(ctx context.Context, status models.OverallStatus, limit int) ([]models.XeContract, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		q = q.Where("overall_status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []models.XeContract
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	return out, nil
}

// MarkExpired expires the contract. An already terminal contract is left
// untouched and reported as unchanged.
func (s *Store) MarkExpired(ctx context.Context, id uint, now time.Time) (*models.XeContract, bool, error) {
	var changed bool
	c, err := s.mutate(ctx, id, func(c *models.XeContract) (bool, error) {
		var err error
		changed, err = c.MarkExpired(now)
		return changed, err
	})
	return c, changed, err
}

func (s *Store) MarkApproved(ctx context.Context, id uint, resp models.ApprovalResponse, userID uint, now time.Time) (*models.XeContract, error) {
	return s.mutate(ctx, id, func(c *models.XeContract) (bool, error) {
		return true, c.MarkApproved(resp, userID, now)
	})
}

func (s *Store) MarkFailed(ctx context.Context, id uint, stage models.ErrorStage, desc models.ErrorDescriptor, now time.Time) (*models.XeContract, error) {
	return s.mutate(ctx, id, func(c *models.XeContract) (bool, error) {
		return true, c.MarkFailed(stage, desc, now)
	})
}

// MarkApprovalFailed records a failed approval attempt. Unlike MarkFailed it
// only applies to a contract still in payment_created, so a late failure can
// never overwrite an approval that won.
func (s *Store) MarkApprovalFailed(ctx context.Context, id uint, desc models.ErrorDescriptor, now time.Time) (*models.XeContract, error) {
	return s.mutate(ctx, id, func(c *models.XeContract) (bool, error) {
		if c.OverallStatus != models.OverallStatusPaymentCreated {
			return false, fmt.Errorf("%w: cannot fail approval from %s", models.ErrInvalidTransition, c.OverallStatus)
		}
		return true, c.MarkFailed(models.ErrorStageContractApproval, desc, now)
	})
}

// ClaimAutoApproval flips autoApprovalAttempted false->true for a contract
// that is still a pending-approval candidate and takes the approval lock.
// Exactly one concurrent caller gets true; everyone else must leave the
// record alone.
func (s *Store) ClaimAutoApproval(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := s.claimable(ctx, id, now).
		Where("quote_expiration_auto_approval_attempted = ?", false).
		Updates(map[string]interface{}{
			"quote_expiration_auto_approval_attempted": true,
			"quote_expiration_approval_attempted_at":   now,
			"approval_locked_at":                       now,
			"version":                                  gorm.Expr("version + 1"),
			"updated_at":                               now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim auto approval for contract %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClaimApproval takes the approval lock for a manual approval. It leaves the
// auto-approval flag alone and fails while any other approval is in flight.
func (s *Store) ClaimApproval(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := s.claimable(ctx, id, now).
		Updates(map[string]interface{}{
			"approval_locked_at": now,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim approval for contract %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) claimable(ctx context.Context, id uint, now time.Time) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.XeContract{}).
		Where("id = ?", id).
		Where("overall_status = ?", models.OverallStatusPaymentCreated).
		Where("quote_expiration_is_expired = ?", false).
		Where("(approval_locked_at IS NULL OR approval_locked_at < ?)", now.Add(-ApprovalLockTTL))
}

func (s *Store) mutate(ctx context.Context, id uint, apply func(c *models.XeContract) (bool, error)) (*models.XeContract, error) {
	var out models.XeContract
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, id).Error; err != nil {
			return notFound(err)
		}

		prev := out.Version
		changed, err := apply(&out)
		if err != nil || !changed {
			return err
		}
		return save(tx, &out, prev)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// save writes every mutable column of c, provided nobody has moved the row
// past version prev since it was read.
func save(tx *gorm.DB, c *models.XeContract, prev int) error {
	c.Version = prev + 1
	res := tx.Session(&gorm.Session{SkipHooks: true}).
		Model(&models.XeContract{}).
		Where("id = ? AND version = ?", c.ID, prev).
		Select("*").
		Omit("id", "created_at", "client_reference", "payment_contract_number", clause.Associations).
		Updates(c)
	if res.Error != nil {
		c.Version = prev
		return fmt.Errorf("failed to update contract %d: %w", c.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		c.Version = prev
		return ErrConcurrentUpdate
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrContractNotFound
	}
	return err
}
