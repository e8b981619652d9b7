package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/kitforge-backend/internal/repo"
	"github.com/angelmondragon/kitforge-backend/pkg/db"
	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	"github.com/angelmondragon/kitforge-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const providerExternalIDIndex = "idx_payments_provider_external_id"

// Repository handles payment persistence.
type Repository interface {
	Insert(ctx context.Context, payment *models.Payment) (bool, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
	FindByExternalID(ctx context.Context, provider enums.Provider, externalID string) (*models.Payment, error)
	HasPurchase(ctx context.Context, identity Identity, productID string, provider enums.Provider) (bool, error)
	HasActiveSubscription(ctx context.Context, identity Identity, provider *enums.Provider, now time.Time) (bool, error)
	ListByEmail(ctx context.Context, email string, limit int, after *pagination.Cursor) ([]models.Payment, error)
}

// Identity names the purchaser. Either field may be empty; rows match on
// user id or case-insensitive email.
type Identity struct {
	UserID string
	Email  string
}

func (i Identity) normalized() Identity {
	return Identity{
		UserID: strings.TrimSpace(i.UserID),
		Email:  strings.ToLower(strings.TrimSpace(i.Email)),
	}
}

// IsZero reports whether the identity cannot match any row.
func (i Identity) IsZero() bool {
	n := i.normalized()
	return n.UserID == "" && n.Email == ""
}

type repository struct {
	repo.Base
}

// NewRepository returns a payments repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

// Insert creates the row unless (provider, external_id) already exists. The
// boolean is false when the unique constraint suppressed the insert.
func (r *repository) Insert(ctx context.Context, payment *models.Payment) (bool, error) {
	if payment == nil {
		return false, errors.New("payment is required")
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(payment)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, providerExternalIDIndex) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.DB(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) FindByExternalID(ctx context.Context, provider enums.Provider, externalID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.DB(ctx).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) HasPurchase(ctx context.Context, identity Identity, productID string, provider enums.Provider) (bool, error) {
	identity = identity.normalized()
	productID = strings.TrimSpace(productID)
	if identity.IsZero() || productID == "" {
		return false, nil
	}

	var count int64
	err := r.scopeIdentity(r.DB(ctx).Model(&models.Payment{}), identity).
		Where("provider = ?", provider).
		Where("status = ?", enums.PaymentStatusPaid).
		Where("(product_id = ? OR product_name = ?)", productID, productID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) HasActiveSubscription(ctx context.Context, identity Identity, provider *enums.Provider, now time.Time) (bool, error) {
	identity = identity.normalized()
	if identity.IsZero() {
		return false, nil
	}

	query := r.scopeIdentity(r.DB(ctx).Model(&models.Payment{}), identity).
		Where("is_subscription = ?", true).
		Where("status = ?", enums.PaymentStatusPaid).
		Where("(period_end IS NULL OR period_end > ?)", now.UTC())
	if provider != nil {
		query = query.Where("provider = ?", *provider)
	}

	var count int64
	if err := query.Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByEmail pages newest first. after is the last row of the previous page.
func (r *repository) ListByEmail(ctx context.Context, email string, limit int, after *pagination.Cursor) ([]models.Payment, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	query := r.DB(ctx).Where("lower(email) = ?", email)
	if after != nil {
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", after.CreatedAt, after.CreatedAt, after.ID.String())
	}
	var rows []models.Payment
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) scopeIdentity(query *gorm.DB, identity Identity) *gorm.DB {
	switch {
	case identity.UserID != "" && identity.Email != "":
		return query.Where("(user_id = ? OR lower(email) = ?)", identity.UserID, identity.Email)
	case identity.UserID != "":
		return query.Where("user_id = ?", identity.UserID)
	default:
		return query.Where("lower(email) = ?", identity.Email)
	}
}
