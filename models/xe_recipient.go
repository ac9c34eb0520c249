package models

import (
	"time"

	"gorm.io/gorm"
)

// XeRecipient is a payee registered with XE on behalf of a marketplace user.
type XeRecipient struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
	UserID            uint           `gorm:"index;not null" json:"user_id"`
	ProviderID        string         `gorm:"uniqueIndex;size:64;not null" json:"provider_id"`
	AccountName       string         `gorm:"size:255;not null" json:"account_name"`
	BankCountry       string         `gorm:"size:2" json:"bank_country"`
	Currency          string         `gorm:"size:3;not null" json:"currency"`
	AccountDescriptor string         `gorm:"size:255" json:"account_descriptor"` // masked IBAN/account number
	IsActive          bool           `gorm:"default:true" json:"is_active"`
}

// TableName overrides the table name
func (XeRecipient) TableName() string {
	return "xe_recipients"
}
