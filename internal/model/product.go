package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the product domain's aggregate that flows through the relay in
// integration scenarios. Lives in the fabrica schema.
type Product struct {
	ID        string          `gorm:"primaryKey;size:36"`
	TenantID  string          `gorm:"size:36;not null;index"`
	Name      string          `gorm:"size:128;not null"`
	SKU       string          `gorm:"size:64;not null;uniqueIndex"`
	Price     decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Stock     int             `gorm:"not null;default:0"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Product) TableName() string { return "product" }

func (p Product) AggregateID() string { return p.ID }
func (p Product) Tenant() string      { return p.TenantID }

// Customer is a second captured aggregate, used to exercise multi-table
// capture rules.
type Customer struct {
	ID        string    `gorm:"primaryKey;size:36"`
	TenantID  string    `gorm:"size:36;not null;index"`
	FirstName string    `gorm:"size:64;not null"`
	LastName  string    `gorm:"size:64;not null"`
	Email     string    `gorm:"size:128;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Customer) TableName() string { return "customer" }

func (c Customer) AggregateID() string { return c.ID }
func (c Customer) Tenant() string      { return c.TenantID }
