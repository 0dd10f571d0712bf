package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AdRecord mirrors the ads table.
type AdRecord struct {
	AdID                  string  `gorm:"type:uuid;primaryKey"`
	UserID                string  `gorm:"not null;index:idx_ads_user"`
	Name                  string  `gorm:"not null"`
	Description           string  `gorm:""`
	Active                bool    `gorm:"not null;index:idx_ads_active_remaining,priority:1"`
	Banned                bool    `gorm:"not null"`
	Rejected              bool    `gorm:"not null"`
	RemainingDays         int     `gorm:"not null;index:idx_ads_active_remaining,priority:2"`
	DurationDays          int     `gorm:"not null"`
	IsPaid                bool    `gorm:"not null"`
	ReservationID         *string `gorm:""`
	FeaturedReservationID *string `gorm:""`
	Details               datatypes.JSON `gorm:"type:jsonb;not null"`
	ActivatedBy           string         `gorm:""`
	ActivatedAt           *time.Time     `gorm:""`
	RejectedBy            string         `gorm:""`
	RejectedAt            *time.Time     `gorm:""`
	RejectReason          string         `gorm:""`
	BannedBy              string         `gorm:""`
	BannedAt              *time.Time     `gorm:""`
	BanReason             string         `gorm:""`
	CreatedAt             time.Time      `gorm:"not null"`
	UpdatedAt             time.Time      `gorm:"not null"`
}

func (AdRecord) TableName() string { return "ads" }

func (record *AdRecord) BeforeCreate(tx *gorm.DB) error {
	if record.AdID == "" {
		record.AdID = uuid.NewString()
	}
	return nil
}

// CreditRecord mirrors the ad_credits table. A null ad_id means the credit is
// still available; ConsumeCredit flips it with a conditional update.
type CreditRecord struct {
	CreditID    string    `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"not null;index:idx_credits_user_kind,priority:1"`
	Kind        string    `gorm:"not null;index:idx_credits_user_kind,priority:2"`
	PriceCents  int64     `gorm:"not null"`
	TotalDays   int       `gorm:"not null"`
	AdID        *string   `gorm:"index:idx_credits_ad"`
	Description string    `gorm:""`
	CreatedAt   time.Time `gorm:"not null"`
}

func (CreditRecord) TableName() string { return "ad_credits" }

func (record *CreditRecord) BeforeCreate(tx *gorm.DB) error {
	if record.CreditID == "" {
		record.CreditID = uuid.NewString()
	}
	return nil
}

// PackRecord mirrors the ad_packs catalog table.
type PackRecord struct {
	PackID        string    `gorm:"primaryKey"`
	Name          string    `gorm:"not null"`
	PriceCents    int64     `gorm:"not null"`
	TotalAds      int       `gorm:"not null"`
	TotalDays     int       `gorm:"not null"`
	TotalFeatures int       `gorm:"not null"`
	Active        bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (PackRecord) TableName() string { return "ad_packs" }

// OrderRecord mirrors the append-only orders table. The unique buy_order
// index is the idempotency backstop for repeated gateway callbacks.
type OrderRecord struct {
	OrderID          string         `gorm:"type:uuid;primaryKey"`
	UserID           string         `gorm:"not null;index:idx_orders_user"`
	AdID             string         `gorm:"not null"`
	AmountCents      int64          `gorm:"not null"`
	BuyOrder         string         `gorm:"not null;index:uniq_orders_buy_order,unique"`
	PaymentMethod    string         `gorm:"not null"`
	PaymentResponse  datatypes.JSON `gorm:"type:jsonb;not null"`
	DocumentResponse datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null"`
}

func (OrderRecord) TableName() string { return "orders" }

func (record *OrderRecord) BeforeCreate(tx *gorm.DB) error {
	if record.OrderID == "" {
		record.OrderID = uuid.NewString()
	}
	return nil
}

// PendingPaymentRecord mirrors the pending_payments correlation table.
type PendingPaymentRecord struct {
	BuyOrder    string    `gorm:"primaryKey"`
	UserID      string    `gorm:"not null"`
	AdID        string    `gorm:"not null;index:idx_pending_ad"`
	AmountCents int64     `gorm:"not null"`
	Token       string    `gorm:""`
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (PendingPaymentRecord) TableName() string { return "pending_payments" }

// DayTickRecord mirrors the ad_day_ticks table. The composite primary key
// makes the daily decrement idempotent per ad and day.
type DayTickRecord struct {
	AdID      string    `gorm:"primaryKey"`
	Day       string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

func (DayTickRecord) TableName() string { return "ad_day_ticks" }

// Models lists every table for migration.
func Models() []any {
	return []any{
		&AdRecord{},
		&CreditRecord{},
		&PackRecord{},
		&OrderRecord{},
		&PendingPaymentRecord{},
		&DayTickRecord{},
	}
}
