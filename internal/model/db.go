package model

import "time"

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

type User struct {
	ID           string `gorm:"primaryKey;size:36;not null"`
	Email        string `gorm:"size:255;uniqueIndex;not null"`
	Name         string `gorm:"size:128;not null"`
	Phone        string `gorm:"size:32"`
	PasswordHash string `gorm:"size:255;not null" json:"-"`
	Role         Role   `gorm:"size:16;not null;default:CUSTOMER"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Product struct {
	ID          string             `gorm:"primaryKey;size:64;not null"` // slug, e.g. maize-white
	Name        string             `gorm:"size:128;not null"`
	Description string             `gorm:"type:text"`
	Image       string             `gorm:"size:255"`
	Category    string             `gorm:"size:32;index"`
	Prices      map[string]float64 `gorm:"serializer:json;not null"` // weight -> price
	Stock       int                `gorm:"not null;default:0"`
	InStock     bool               `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WebhookEvent records a provider callback that has already been applied.
type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;uniqueIndex;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}
