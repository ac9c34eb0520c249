// Package testutil provides in-memory databases and fixtures for tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/gpay-xe/config"
	"github.com/yourusername/gpay-xe/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a migrated in-memory SQLite database. The pool is pinned to
// a single connection so every caller sees the same in-memory schema.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, config.Migrate(db))
	return db
}

// Parties are the rows an XE contract links to.
type Parties struct {
	User        models.User
	Transaction models.Transaction
	Recipient   models.XeRecipient
}

// SeedParties inserts a user, a transaction and a recipient.
func SeedParties(t testing.TB, db *gorm.DB) Parties {
	t.Helper()

	suffix := uuid.NewString()[:8]
	p := Parties{
		User: models.User{
			Email: fmt.Sprintf("client-%s@example.com", suffix),
			Name:  "Ada Client",
			Role:  "user",
		},
	}
	require.NoError(t, db.Create(&p.User).Error)

	p.Transaction = models.Transaction{
		PayerID:      p.User.ID,
		FreelancerID: p.User.ID,
		Amount:       decimal.RequireFromString("1000.00"),
		Currency:     "USD",
		Status:       "pending",
	}
	require.NoError(t, db.Create(&p.Transaction).Error)

	p.Recipient = models.XeRecipient{
		UserID:            p.User.ID,
		ProviderID:        "RCP-" + suffix,
		AccountName:       "Grace Freelancer",
		BankCountry:       "GB",
		Currency:          "GBP",
		AccountDescriptor: "GB29****1234",
	}
	require.NoError(t, db.Create(&p.Recipient).Error)
	return p
}

// NewContract builds an unsaved payment_created contract whose quote expires
// at expiresAt.
func NewContract(p Parties, expiresAt time.Time) *models.XeContract {
	ref := uuid.NewString()
	quoteTime := expiresAt.Add(-2 * time.Minute)
	return &models.XeContract{
		ClientReference: ref,
		TransactionID:   p.Transaction.ID,
		UserID:          p.User.ID,
		RecipientID:     p.Recipient.ID,
		Payment: models.XePayment{
			ContractNumber: "XE-" + ref[:13],
			QuoteTime:      &quoteTime,
			QuoteExpiresAt: &expiresAt,
			QuoteLegs: []models.QuoteLeg{{
				SellCurrency: "USD",
				SellAmount:   decimal.RequireFromString("1000.00"),
				BuyCurrency:  "GBP",
				BuyAmount:    decimal.RequireFromString("786.10"),
				Rate:         decimal.RequireFromString("0.7861"),
				InverseRate:  decimal.RequireFromString("1.2721"),
				ValueDate:    expiresAt.Format("2006-01-02"),
			}},
			SettlementLegs: []models.SettlementLeg{{
				DestinationAccount:  "GB29****1234",
				SettlementMethod:    "DirectDebit",
				Fees:                decimal.RequireFromString("4.50"),
				NetSettlementAmount: decimal.RequireFromString("1004.50"),
				Margin:              decimal.RequireFromString("0.0025"),
			}},
			SettlementOptions: []models.SettlementOption{{Method: "DirectDebit", IsAvailable: true, Currency: "USD"}},
		},
	}
}
