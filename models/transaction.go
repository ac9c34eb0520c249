package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction is the marketplace payment an XE contract funds.
type Transaction struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
	PayerID      uint            `gorm:"index;not null" json:"payer_id"`
	FreelancerID uint            `gorm:"index;not null" json:"freelancer_id"`
	Amount       decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency     string          `gorm:"size:3;not null" json:"currency"`
	Status       string          `gorm:"size:20;default:'pending'" json:"status"` // pending, funded, released, refunded
	Description  string          `gorm:"type:text" json:"description"`
}

// TableName overrides the table name
func (Transaction) TableName() string {
	return "transactions"
}
