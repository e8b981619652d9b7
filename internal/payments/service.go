package payments

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/kitforge-backend/internal/normalize"
	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/pagination"
)

// ErrStoreUnavailable is returned by write paths when no database is
// configured. It is permanent: replaying the event cannot succeed.
var ErrStoreUnavailable = pkgerrors.New(pkgerrors.CodeFeatureDisabled, "payment store is not configured")

// ErrMissingPurchaser is returned when an event would create a payment row
// but carries no purchaser email.
var ErrMissingPurchaser = pkgerrors.New(pkgerrors.CodeValidation, "purchaser email is required for a new payment")

// NormalizedPayment is the provider-independent shape every webhook adapter
// produces.
type NormalizedPayment struct {
	Provider          enums.Provider
	ExternalID        string
	EventType         string
	Email             string
	UserID            string
	AmountCents       int64
	Currency          string
	Status            enums.PaymentStatus
	ProductID         string
	ProductName       string
	ProductNameSource string
	IsSubscription    bool
	SubscriptionID    string
	PeriodEnd         *time.Time
	Metadata          map[string]any
}

// Validate checks the fields every adapter must provide.
func (p NormalizedPayment) Validate() error {
	if !p.Provider.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown provider").
			WithDetails(map[string]any{"provider": p.Provider})
	}
	if strings.TrimSpace(p.ExternalID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external id is required")
	}
	if !p.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status").
			WithDetails(map[string]any{"status": p.Status})
	}
	if p.AmountCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	return nil
}

// ChangeListener is notified after a payment row is created or changed.
type ChangeListener func(ctx context.Context, payment *models.Payment)

// ServiceParams groups dependencies for the payment service. Repo may be nil
// when no database is configured.
type ServiceParams struct {
	Repo     Repository
	Logger   *logger.Logger
	Now      func() time.Time
	OnChange ChangeListener
}

// Service owns the payment record lifecycle.
type Service struct {
	repo     Repository
	logg     *logger.Logger
	now      func() time.Time
	onChange ChangeListener
}

// NewService builds a payment service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repo,
		logg:     params.Logger,
		now:      now,
		onChange: params.OnChange,
	}, nil
}

// Available reports whether a payment store is configured.
func (s *Service) Available() bool {
	return s != nil && s.repo != nil
}

// UpsertFromWebhook records the payment keyed on (provider, external_id).
// First receipt inserts the row. Later events move the status forward; the
// amount is only rewritten together with a status change, and product id,
// user id and a fallback product name are only filled in when missing.
func (s *Service) UpsertFromWebhook(ctx context.Context, in NormalizedPayment) (*models.Payment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"provider":    in.Provider.String(),
		"external_id": in.ExternalID,
		"event_type":  in.EventType,
	})

	existing, err := s.repo.FindByExternalID(ctx, in.Provider, in.ExternalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment")
	}
	if existing == nil {
		row, err := s.insert(ctx, in)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
		// lost the insert race; the row exists now
		existing, err = s.repo.FindByExternalID(ctx, in.Provider, in.ExternalID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment after conflict")
		}
		if existing == nil {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment vanished after conflict")
		}
	}
	return s.applyTransition(ctx, existing, in)
}

// RecordPayment is UpsertFromWebhook for callers outside the webhook path.
func (s *Service) RecordPayment(ctx context.Context, in NormalizedPayment) (*models.Payment, error) {
	return s.UpsertFromWebhook(ctx, in)
}

func (s *Service) insert(ctx context.Context, in NormalizedPayment) (*models.Payment, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, ErrMissingPurchaser
	}

	name, source := in.ProductName, in.ProductNameSource
	if strings.TrimSpace(name) == "" {
		name, source = normalize.UnknownProductName, normalize.SourceFallback
	}

	metadata, err := encodeMetadata(in.Metadata)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode payment metadata")
	}

	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "usd"
	}

	now := s.now().UTC()
	row := &models.Payment{
		Provider:          in.Provider,
		ExternalID:        in.ExternalID,
		Email:             email,
		UserID:            optionalString(in.UserID),
		AmountCents:       in.AmountCents,
		Currency:          currency,
		Status:            in.Status,
		ProductID:         optionalString(in.ProductID),
		ProductName:       name,
		ProductNameSource: source,
		IsSubscription:    in.IsSubscription,
		SubscriptionID:    optionalString(in.SubscriptionID),
		PeriodEnd:         utcPtr(in.PeriodEnd),
		EventType:         in.EventType,
		Metadata:          metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	inserted, err := s.repo.Insert(ctx, row)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment")
	}
	if !inserted {
		return nil, nil
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"status":              row.Status.String(),
		"amount_cents":        row.AmountCents,
		"product_name_source": row.ProductNameSource,
	}), "payment recorded")
	s.notify(ctx, row)
	return row, nil
}

func (s *Service) applyTransition(ctx context.Context, existing *models.Payment, in NormalizedPayment) (*models.Payment, error) {
	if !transitionAllowed(existing, in.Status) {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"stored_status":   existing.Status.String(),
			"incoming_status": in.Status.String(),
		}), "payment status transition ignored")
		return existing, nil
	}

	fields := map[string]any{}
	if existing.Status != in.Status {
		fields["status"] = in.Status
		existing.Status = in.Status
		if in.AmountCents > 0 && in.AmountCents != existing.AmountCents {
			fields["amount_cents"] = in.AmountCents
			existing.AmountCents = in.AmountCents
		}
	}
	if in.ProductNameSource != "" && in.ProductNameSource != normalize.SourceFallback &&
		existing.ProductNameSource == normalize.SourceFallback {
		fields["product_name"] = in.ProductName
		fields["product_name_source"] = in.ProductNameSource
		existing.ProductName = in.ProductName
		existing.ProductNameSource = in.ProductNameSource
	}
	if in.PeriodEnd != nil {
		end := in.PeriodEnd.UTC()
		if existing.PeriodEnd == nil || !existing.PeriodEnd.Equal(end) {
			fields["period_end"] = end
			existing.PeriodEnd = &end
		}
	}
	if existing.ProductID == nil && strings.TrimSpace(in.ProductID) != "" {
		fields["product_id"] = strings.TrimSpace(in.ProductID)
		existing.ProductID = optionalString(in.ProductID)
	}
	if existing.UserID == nil && strings.TrimSpace(in.UserID) != "" {
		fields["user_id"] = strings.TrimSpace(in.UserID)
		existing.UserID = optionalString(in.UserID)
	}
	if len(fields) == 0 {
		return existing, nil
	}

	now := s.now().UTC()
	fields["event_type"] = in.EventType
	fields["updated_at"] = now
	existing.EventType = in.EventType
	existing.UpdatedAt = now

	if err := s.repo.Update(ctx, existing.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
	}
	s.logg.Info(s.logg.WithField(ctx, "status", existing.Status.String()), "payment updated")
	s.notify(ctx, existing)
	return existing, nil
}

// HasUserPurchasedProduct never fails: a missing store or a query error is
// logged and reported as false.
func (s *Service) HasUserPurchasedProduct(ctx context.Context, identity Identity, productID string, provider enums.Provider) bool {
	if s == nil || s.repo == nil {
		return false
	}
	ok, err := s.repo.HasPurchase(ctx, identity, productID, provider)
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"provider":   provider.String(),
			"product_id": productID,
		}), "purchase lookup failed", err)
		return false
	}
	return ok
}

// HasUserActiveSubscription never fails; provider nil matches any provider.
func (s *Service) HasUserActiveSubscription(ctx context.Context, identity Identity, provider *enums.Provider) bool {
	if s == nil || s.repo == nil {
		return false
	}
	ok, err := s.repo.HasActiveSubscription(ctx, identity, provider, s.now())
	if err != nil {
		s.logg.Error(ctx, "subscription lookup failed", err)
		return false
	}
	return ok
}

// PaymentPage is one page of the admin audit listing.
type PaymentPage struct {
	Payments   []models.Payment
	NextCursor string
}

// ListPayments returns the audit trail for a purchaser email, newest first.
func (s *Service) ListPayments(ctx context.Context, email string, params pagination.Params) (*PaymentPage, error) {
	if strings.TrimSpace(email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	after, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByEmail(ctx, email, pagination.LimitWithBuffer(limit), after)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	page := &PaymentPage{}
	page.Payments, page.NextCursor = pagination.Trim(rows, limit, func(p models.Payment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return page, nil
}

// transitionAllowed applies the status precedence rules. Subscription rows may
// also fall from paid to failed when a renewal charge fails.
func transitionAllowed(existing *models.Payment, next enums.PaymentStatus) bool {
	if existing.IsSubscription && existing.Status == enums.PaymentStatusPaid && next == enums.PaymentStatusFailed {
		return true
	}
	return existing.Status.CanTransitionTo(next)
}

func (s *Service) notify(ctx context.Context, payment *models.Payment) {
	if s.onChange != nil {
		s.onChange(ctx, payment)
	}
}

func encodeMetadata(meta map[string]any) (json.RawMessage, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
