package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/kitforge-backend/pkg/enums"
)

// Payment is the provider-agnostic record of a purchase or subscription
// payment. (provider, external_id) is unique; rows are never deleted.
type Payment struct {
	ID                uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Provider          enums.Provider      `gorm:"column:provider;not null;uniqueIndex:idx_payments_provider_external_id"`
	ExternalID        string              `gorm:"column:external_id;not null;uniqueIndex:idx_payments_provider_external_id"`
	Email             string              `gorm:"column:email;not null;index"`
	UserID            *string             `gorm:"column:user_id;index"`
	AmountCents       int64               `gorm:"column:amount_cents;not null;default:0"`
	Currency          string              `gorm:"column:currency;not null;default:'usd'"`
	Status            enums.PaymentStatus `gorm:"column:status;not null"`
	ProductID         *string             `gorm:"column:product_id"`
	ProductName       string              `gorm:"column:product_name;not null"`
	ProductNameSource string              `gorm:"column:product_name_source;not null"`
	IsSubscription    bool                `gorm:"column:is_subscription;not null;default:false"`
	SubscriptionID    *string             `gorm:"column:subscription_id;index"`
	PeriodEnd         *time.Time          `gorm:"column:period_end"`
	EventType         string              `gorm:"column:event_type;not null"`
	Metadata          json.RawMessage     `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string {
	return "payments"
}
