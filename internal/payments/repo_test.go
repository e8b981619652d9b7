package payments

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	"github.com/angelmondragon/kitforge-backend/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(v string) *string { return &v }

func seedPayment(t *testing.T, repo Repository, p models.Payment) *models.Payment {
	t.Helper()
	if p.ProductNameSource == "" {
		p.ProductNameSource = "product.name"
	}
	if p.EventType == "" {
		p.EventType = "test.event"
	}
	if p.Currency == "" {
		p.Currency = "usd"
	}
	inserted, err := repo.Insert(context.Background(), &p)
	require.NoError(t, err)
	require.True(t, inserted)
	return &p
}

func TestRepositoryInsertRespectsUniqueKey(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()

	seedPayment(t, repo, models.Payment{
		Provider: enums.ProviderStripe, ExternalID: "cs_1", Email: "a@example.com",
		Status: enums.PaymentStatusPaid, ProductName: "Kit",
	})

	dup := &models.Payment{
		Provider: enums.ProviderStripe, ExternalID: "cs_1", Email: "b@example.com",
		Status: enums.PaymentStatusPending, ProductName: "Kit", ProductNameSource: "fallback", EventType: "x",
	}
	inserted, err := repo.Insert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	// same external id under another provider is a distinct payment
	other := &models.Payment{
		Provider: enums.ProviderPolar, ExternalID: "cs_1", Email: "a@example.com",
		Status: enums.PaymentStatusPaid, ProductName: "Kit", ProductNameSource: "fallback", EventType: "x",
	}
	inserted, err = repo.Insert(ctx, other)
	require.NoError(t, err)
	assert.True(t, inserted)

	found, err := repo.FindByExternalID(ctx, enums.ProviderStripe, "cs_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a@example.com", found.Email)

	missing, err := repo.FindByExternalID(ctx, enums.ProviderLemonSqueezy, "cs_1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryHasPurchase(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()

	seedPayment(t, repo, models.Payment{
		Provider: enums.ProviderStripe, ExternalID: "cs_paid", Email: "buyer@example.com",
		UserID: strPtr("user-1"), Status: enums.PaymentStatusPaid,
		ProductID: strPtr("prod_kit"), ProductName: "Starter Kit",
	})
	seedPayment(t, repo, models.Payment{
		Provider: enums.ProviderStripe, ExternalID: "cs_refunded", Email: "other@example.com",
		Status: enums.PaymentStatusRefunded, ProductID: strPtr("prod_kit"), ProductName: "Starter Kit",
	})

	ok, err := repo.HasPurchase(ctx, Identity{UserID: "user-1"}, "prod_kit", enums.ProviderStripe)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasPurchase(ctx, Identity{Email: "BUYER@example.com"}, "Starter Kit", enums.ProviderStripe)
	require.NoError(t, err)
	assert.True(t, ok, "email match is case-insensitive and product name matches")

	ok, err = repo.HasPurchase(ctx, Identity{UserID: "user-1"}, "prod_kit", enums.ProviderPolar)
	require.NoError(t, err)
	assert.False(t, ok, "provider must match")

	ok, err = repo.HasPurchase(ctx, Identity{Email: "other@example.com"}, "prod_kit", enums.ProviderStripe)
	require.NoError(t, err)
	assert.False(t, ok, "refunded payments do not count")

	ok, err = repo.HasPurchase(ctx, Identity{}, "prod_kit", enums.ProviderStripe)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryHasActiveSubscription(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	seedPayment(t, repo, models.Payment{
		Provider: enums.ProviderPolar, ExternalID: "sub_active", Email: "sub@example.com",
		Status: enums.PaymentStatusPaid, ProductName: "Pro", IsSubscription: true, PeriodEnd: &future,
	})
	seedPayment(t, repo, models.Payment{
		Provider: enums.ProviderStripe, ExternalID: "sub_expired", Email: "late@example.com",
		Status: enums.PaymentStatusPaid, ProductName: "Pro", IsSubscription: true, PeriodEnd: &past,
	})
	seedPayment(t, repo, models.Payment{
		Provider: enums.ProviderLemonSqueezy, ExternalID: "sub_canceled", Email: "gone@example.com",
		Status: enums.PaymentStatusCanceled, ProductName: "Pro", IsSubscription: true,
	})
	seedPayment(t, repo, models.Payment{
		Provider: enums.ProviderLemonSqueezy, ExternalID: "sub_open", Email: "open@example.com",
		Status: enums.PaymentStatusPaid, ProductName: "Pro", IsSubscription: true,
	})

	polar := enums.ProviderPolar
	stripe := enums.ProviderStripe

	ok, err := repo.HasActiveSubscription(ctx, Identity{Email: "sub@example.com"}, nil, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasActiveSubscription(ctx, Identity{Email: "sub@example.com"}, &polar, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasActiveSubscription(ctx, Identity{Email: "sub@example.com"}, &stripe, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.HasActiveSubscription(ctx, Identity{Email: "late@example.com"}, nil, now)
	require.NoError(t, err)
	assert.False(t, ok, "expired period")

	ok, err = repo.HasActiveSubscription(ctx, Identity{Email: "gone@example.com"}, nil, now)
	require.NoError(t, err)
	assert.False(t, ok, "canceled")

	ok, err = repo.HasActiveSubscription(ctx, Identity{Email: "open@example.com"}, nil, now)
	require.NoError(t, err)
	assert.True(t, ok, "no period end means open-ended")
}

func TestRepositoryListByEmail(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		seedPayment(t, repo, models.Payment{
			Provider: enums.ProviderStripe, ExternalID: id, Email: "audit@example.com",
			Status: enums.PaymentStatusPaid, ProductName: "Kit",
			CreatedAt: base.Add(time.Duration(i) * time.Hour), UpdatedAt: base,
		})
	}
	seedPayment(t, repo, models.Payment{
		Provider: enums.ProviderStripe, ExternalID: "other", Email: "someone@example.com",
		Status: enums.PaymentStatusPaid, ProductName: "Kit",
	})

	rows, err := repo.ListByEmail(ctx, " Audit@Example.com ", 10, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "c", rows[0].ExternalID)

	first, err := repo.ListByEmail(ctx, "audit@example.com", 2, nil)
	require.NoError(t, err)
	require.Len(t, first, 2)
	last := first[1]
	rest, err := repo.ListByEmail(ctx, "audit@example.com", 2, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "a", rest[0].ExternalID)
}
