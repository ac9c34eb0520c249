package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a marketplace account that can initiate XE payments.
type User struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	Email           string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name            string         `gorm:"size:255;not null" json:"name"`
	PasswordHash    string         `gorm:"size:255" json:"-"`
	Role            string         `gorm:"size:20;default:'user'" json:"role"` // admin, user
	Country         string         `gorm:"size:2" json:"country"`              // ISO country code
	IsActive        bool           `gorm:"default:true" json:"is_active"`
	DefaultCurrency string         `gorm:"size:3;default:'USD'" json:"default_currency"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

// DisplayName is the identity shown next to approvals.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
