package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/pkg/config"
	"github.com/angelmondragon/kitforge-backend/pkg/db/models"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	"github.com/angelmondragon/kitforge-backend/pkg/pagination"
)

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	rec := httptest.NewRecorder()
	HealthLive(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", rec.Header().Get(envHeader))
	assert.JSONEq(t, `{"data":{"status":"live"}}`, rec.Body.String())
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "prod"}}

	cases := []struct {
		name   string
		db     Pinger
		redis  Pinger
		status string
		deps   map[string]string
	}{
		{name: "all disabled", status: "ready", deps: map[string]string{"database": "disabled", "redis": "disabled"}},
		{name: "healthy", db: stubPinger{}, redis: stubPinger{}, status: "ready", deps: map[string]string{"database": "ok", "redis": "ok"}},
		{name: "redis down", db: stubPinger{}, redis: stubPinger{err: errors.New("refused")}, status: "degraded", deps: map[string]string{"database": "ok", "redis": "unavailable"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthReady(cfg, nil, tc.db, tc.redis).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var body struct {
				Data readyResponse `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Data.Status)
			assert.Equal(t, tc.deps, body.Data.Dependencies)
		})
	}
}

func TestPublicFeatures(t *testing.T) {
	cfg := &config.Config{Features: config.FeaturesConfig{Stripe: true}}
	rec := httptest.NewRecorder()
	PublicFeatures(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/public/features", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Features map[string]bool `json:"features"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Data.Features["stripe"])
	assert.False(t, body.Data.Features["polar"])
}

func TestAdminListPayments(t *testing.T) {
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	lister := &stubLister{rows: []models.Payment{{
		ID:                uuid.New(),
		Provider:          enums.ProviderPolar,
		ExternalID:        "sub_1",
		Email:             "buyer@example.com",
		Status:            enums.PaymentStatusPaid,
		ProductName:       "Starter Kit",
		ProductNameSource: "product_name",
		IsSubscription:    true,
		PeriodEnd:         &end,
		EventType:         "subscription.active",
	}}, next: "next-page"}

	rec := httptest.NewRecorder()
	AdminListPayments(lister, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/v1/payments?email=buyer@example.com&limit=10&cursor=abc", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "buyer@example.com", lister.email)
	assert.Equal(t, pagination.Params{Limit: 10, Cursor: "abc"}, lister.params)

	var body struct {
		Data struct {
			Payments   []adminPaymentResponse `json:"payments"`
			NextCursor string                 `json:"next_cursor"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "next-page", body.Data.NextCursor)
	require.Len(t, body.Data.Payments, 1)
	assert.Equal(t, "polar", body.Data.Payments[0].Provider)
	assert.Equal(t, "paid", body.Data.Payments[0].Status)
	require.NotNil(t, body.Data.Payments[0].PeriodEnd)
	assert.True(t, end.Equal(*body.Data.Payments[0].PeriodEnd))
}

func TestAdminListPayments_Validation(t *testing.T) {
	lister := &stubLister{}
	for _, target := range []string{"/api/admin/v1/payments", "/api/admin/v1/payments?email=a@b.c&limit=0"} {
		rec := httptest.NewRecorder()
		AdminListPayments(lister, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	assert.Zero(t, lister.calls)
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubLister struct {
	rows   []models.Payment
	next   string
	calls  int
	email  string
	params pagination.Params
}

func (s *stubLister) ListPayments(ctx context.Context, email string, params pagination.Params) (*payments.PaymentPage, error) {
	s.calls++
	s.email = email
	s.params = params
	return &payments.PaymentPage{Payments: s.rows, NextCursor: s.next}, nil
}
