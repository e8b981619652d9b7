package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, repo Repository, now time.Time) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Logger: testLogger(),
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

func paidCheckout() NormalizedPayment {
	return NormalizedPayment{
		Provider:          enums.ProviderStripe,
		ExternalID:        "cs_test_1",
		EventType:         "checkout.session.completed",
		Email:             "Buyer@Example.com",
		UserID:            "user-1",
		AmountCents:       1999,
		Currency:          "USD",
		Status:            enums.PaymentStatusPaid,
		ProductID:         "prod_kit",
		ProductName:       "Starter Kit",
		ProductNameSource: "product.name",
	}
}

func TestNewServiceRequiresLogger(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestUpsertFromWebhook_CreatesThenReplays(t *testing.T) {
	db := setupPaymentsTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, NewRepository(db), now)
	ctx := context.Background()

	first, err := svc.UpsertFromWebhook(ctx, paidCheckout())
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", first.Email)
	assert.Equal(t, "usd", first.Currency)

	second, err := svc.UpsertFromWebhook(ctx, paidCheckout())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUpsertFromWebhook_StatusPrecedence(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, NewRepository(db), time.Now())
	ctx := context.Background()

	_, err := svc.UpsertFromWebhook(ctx, paidCheckout())
	require.NoError(t, err)

	refund := paidCheckout()
	refund.Status = enums.PaymentStatusRefunded
	refund.EventType = "charge.refunded"
	refund.Email = ""
	updated, err := svc.UpsertFromWebhook(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, updated.Status)

	// a late delivery of the original paid event keeps the refund
	replay, err := svc.UpsertFromWebhook(ctx, paidCheckout())
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, replay.Status)

	var stored models.Payment
	require.NoError(t, db.Where("external_id = ?", "cs_test_1").First(&stored).Error)
	assert.Equal(t, enums.PaymentStatusRefunded, stored.Status)
	assert.Equal(t, "charge.refunded", stored.EventType)
}

func TestUpsertFromWebhook_UpgradesFallbackProductName(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, NewRepository(db), time.Now())
	ctx := context.Background()

	pending := paidCheckout()
	pending.Status = enums.PaymentStatusPending
	pending.ProductName = ""
	pending.ProductNameSource = ""
	row, err := svc.UpsertFromWebhook(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, "Unknown Product", row.ProductName)
	assert.Equal(t, "fallback", row.ProductNameSource)

	row, err = svc.UpsertFromWebhook(ctx, paidCheckout())
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, row.Status)
	assert.Equal(t, "Starter Kit", row.ProductName)
}

func TestUpsertFromWebhook_Validation(t *testing.T) {
	svc := newTestService(t, NewRepository(setupPaymentsTestDB(t)), time.Now())
	ctx := context.Background()

	noID := paidCheckout()
	noID.ExternalID = " "
	_, err := svc.UpsertFromWebhook(ctx, noID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	assert.False(t, pkgerrors.IsTransient(err))

	noEmail := paidCheckout()
	noEmail.Email = ""
	_, err = svc.UpsertFromWebhook(ctx, noEmail)
	require.ErrorIs(t, err, ErrMissingPurchaser)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestUpsertFromWebhook_AmountOnlyChangesWithStatus(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, NewRepository(db), time.Now())
	ctx := context.Background()

	pending := paidCheckout()
	pending.Status = enums.PaymentStatusPending
	_, err := svc.UpsertFromWebhook(ctx, pending)
	require.NoError(t, err)

	sameStatus := pending
	sameStatus.AmountCents = 5
	row, err := svc.UpsertFromWebhook(ctx, sameStatus)
	require.NoError(t, err)
	assert.EqualValues(t, 1999, row.AmountCents)

	paid := paidCheckout()
	paid.AmountCents = 2499
	row, err = svc.UpsertFromWebhook(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, row.Status)
	assert.EqualValues(t, 2499, row.AmountCents)

	var stored models.Payment
	require.NoError(t, db.Where("external_id = ?", paid.ExternalID).First(&stored).Error)
	assert.EqualValues(t, 2499, stored.AmountCents)
}

func TestUpsertFromWebhook_NoStore(t *testing.T) {
	svc := newTestService(t, nil, time.Now())

	_, err := svc.UpsertFromWebhook(context.Background(), paidCheckout())
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, pkgerrors.IsTransient(err))
	assert.False(t, svc.Available())
}

func TestUpsertFromWebhook_RepositoryFailureIsTransient(t *testing.T) {
	repo := &stubRepo{findErr: errors.New("connection reset")}
	svc := newTestService(t, repo, time.Now())

	_, err := svc.UpsertFromWebhook(context.Background(), paidCheckout())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestUpsertFromWebhook_InsertRaceFallsBackToUpdate(t *testing.T) {
	existing := &models.Payment{
		ID:         uuid.New(),
		Provider:   enums.ProviderStripe,
		ExternalID: "cs_test_1",
		Status:     enums.PaymentStatusPending,
	}
	repo := &stubRepo{findAfterInsert: existing}
	svc := newTestService(t, repo, time.Now())

	row, err := svc.UpsertFromWebhook(context.Background(), paidCheckout())
	require.NoError(t, err)
	assert.Equal(t, existing.ID, row.ID)
	assert.Equal(t, enums.PaymentStatusPaid, row.Status)
	require.Len(t, repo.updates, 1)
	assert.Equal(t, enums.PaymentStatusPaid, repo.updates[0]["status"])
}

func TestUpsertFromWebhook_NotifiesListener(t *testing.T) {
	var seen []string
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(setupPaymentsTestDB(t)),
		Logger: testLogger(),
		OnChange: func(_ context.Context, p *models.Payment) {
			seen = append(seen, p.Status.String())
		},
	})
	require.NoError(t, err)

	_, err = svc.UpsertFromWebhook(context.Background(), paidCheckout())
	require.NoError(t, err)
	_, err = svc.UpsertFromWebhook(context.Background(), paidCheckout())
	require.NoError(t, err)

	assert.Equal(t, []string{"paid"}, seen, "unchanged replays do not notify")
}

func TestHasUserPurchasedProduct(t *testing.T) {
	svc := newTestService(t, NewRepository(setupPaymentsTestDB(t)), time.Now())
	ctx := context.Background()
	_, err := svc.UpsertFromWebhook(ctx, paidCheckout())
	require.NoError(t, err)

	assert.True(t, svc.HasUserPurchasedProduct(ctx, Identity{UserID: "user-1"}, "prod_kit", enums.ProviderStripe))
	assert.False(t, svc.HasUserPurchasedProduct(ctx, Identity{UserID: "user-2"}, "prod_kit", enums.ProviderStripe))
}

func TestReadsFailOpen(t *testing.T) {
	ctx := context.Background()
	identity := Identity{UserID: "user-1"}

	noStore := newTestService(t, nil, time.Now())
	assert.False(t, noStore.HasUserPurchasedProduct(ctx, identity, "prod_kit", enums.ProviderStripe))
	assert.False(t, noStore.HasUserActiveSubscription(ctx, identity, nil))

	broken := newTestService(t, &stubRepo{queryErr: errors.New("db down")}, time.Now())
	assert.False(t, broken.HasUserPurchasedProduct(ctx, identity, "prod_kit", enums.ProviderStripe))
	assert.False(t, broken.HasUserActiveSubscription(ctx, identity, nil))

	var nilSvc *Service
	assert.False(t, nilSvc.HasUserPurchasedProduct(ctx, identity, "prod_kit", enums.ProviderStripe))
}

func TestHasUserActiveSubscription_UsesClock(t *testing.T) {
	db := setupPaymentsTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(time.Hour)

	sub := paidCheckout()
	sub.ExternalID = "sub_1"
	sub.IsSubscription = true
	sub.SubscriptionID = "sub_1"
	sub.PeriodEnd = &end

	before := newTestService(t, NewRepository(db), now)
	_, err := before.UpsertFromWebhook(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, before.HasUserActiveSubscription(context.Background(), Identity{Email: "buyer@example.com"}, nil))

	after := newTestService(t, NewRepository(db), now.Add(2*time.Hour))
	assert.False(t, after.HasUserActiveSubscription(context.Background(), Identity{Email: "buyer@example.com"}, nil))
}

func TestListPayments(t *testing.T) {
	svc := newTestService(t, NewRepository(setupPaymentsTestDB(t)), time.Now())
	ctx := context.Background()
	_, err := svc.UpsertFromWebhook(ctx, paidCheckout())
	require.NoError(t, err)

	page, err := svc.ListPayments(ctx, "buyer@example.com", pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, page.Payments, 1)
	assert.Empty(t, page.NextCursor)

	_, err = svc.ListPayments(ctx, "", pagination.Params{})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = svc.ListPayments(ctx, "buyer@example.com", pagination.Params{Cursor: "not-a-cursor"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = newTestService(t, nil, time.Now()).ListPayments(ctx, "buyer@example.com", pagination.Params{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

type stubRepo struct {
	findErr         error
	queryErr        error
	findAfterInsert *models.Payment
	finds           int
	updates         []map[string]any
}

func (s *stubRepo) Insert(context.Context, *models.Payment) (bool, error) {
	return s.findAfterInsert == nil, nil
}

func (s *stubRepo) Update(_ context.Context, _ uuid.UUID, fields map[string]any) error {
	s.updates = append(s.updates, fields)
	return nil
}

func (s *stubRepo) FindByExternalID(context.Context, enums.Provider, string) (*models.Payment, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.finds++
	if s.finds > 1 {
		return s.findAfterInsert, nil
	}
	return nil, nil
}

func (s *stubRepo) HasPurchase(context.Context, Identity, string, enums.Provider) (bool, error) {
	return false, s.queryErr
}

func (s *stubRepo) HasActiveSubscription(context.Context, Identity, *enums.Provider, time.Time) (bool, error) {
	return false, s.queryErr
}

func (s *stubRepo) ListByEmail(context.Context, string, int, *pagination.Cursor) ([]models.Payment, error) {
	return nil, s.queryErr
}

func TestUpsertFromWebhook_SubscriptionRenewalFailure(t *testing.T) {
	svc := newTestService(t, NewRepository(setupPaymentsTestDB(t)), time.Now())
	ctx := context.Background()

	sub := paidCheckout()
	sub.ExternalID = "sub_9"
	sub.IsSubscription = true
	_, err := svc.UpsertFromWebhook(ctx, sub)
	require.NoError(t, err)

	failed := sub
	failed.Status = enums.PaymentStatusFailed
	row, err := svc.UpsertFromWebhook(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, row.Status)

	// one-time payments keep paid when a stale failure arrives
	oneTime := paidCheckout()
	_, err = svc.UpsertFromWebhook(ctx, oneTime)
	require.NoError(t, err)
	oneTime.Status = enums.PaymentStatusFailed
	row, err = svc.UpsertFromWebhook(ctx, oneTime)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, row.Status)

	// dunning gave up; the subscription ends while failed
	ended := sub
	ended.Status = enums.PaymentStatusCanceled
	row, err = svc.UpsertFromWebhook(ctx, ended)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCanceled, row.Status)
}
