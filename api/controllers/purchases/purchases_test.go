package purchases

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/kitforge-backend/api/middleware"
	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/polar"
	"github.com/angelmondragon/kitforge-backend/pkg/purchasecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPurchase_CachesResult(t *testing.T) {
	svc := &fakeEntitlements{purchased: true}
	cache := purchasecache.New(time.Minute)
	handler := CheckPurchase(svc, cache, nil)

	for i := 0; i < 2; i++ {
		rec := serve(handler, authed(httptest.NewRequest(http.MethodGet, "/api/v1/purchases/check?product_id=kit-pro&provider=stripe", nil)))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"hasPurchased":true}`, rec.Body.String())
	}
	assert.Equal(t, 1, svc.purchaseCalls)
	assert.Equal(t, "kit-pro", svc.lastProduct)
	assert.Equal(t, enums.ProviderStripe, svc.lastProvider)
	assert.Equal(t, "user-1", svc.lastIdentity.UserID)

	assert.Equal(t, 1, cache.InvalidateOwner("USER@example.com"))
	serve(handler, authed(httptest.NewRequest(http.MethodGet, "/api/v1/purchases/check?product_id=kit-pro&provider=stripe", nil)))
	assert.Equal(t, 2, svc.purchaseCalls)
}

func TestCheckPurchase_Validation(t *testing.T) {
	handler := CheckPurchase(&fakeEntitlements{}, purchasecache.New(time.Minute), nil)
	cases := map[string]string{
		"missing product":  "/api/v1/purchases/check?provider=stripe",
		"missing provider": "/api/v1/purchases/check?product_id=kit",
		"unknown provider": "/api/v1/purchases/check?product_id=kit&provider=paypal",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(handler, authed(httptest.NewRequest(http.MethodGet, target, nil)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCheckPurchase_Unauthenticated(t *testing.T) {
	handler := CheckPurchase(&fakeEntitlements{}, purchasecache.New(time.Minute), nil)
	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/purchases/check?product_id=kit&provider=stripe", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckSubscription_ProviderOptional(t *testing.T) {
	svc := &fakeEntitlements{active: true}
	handler := CheckSubscription(svc, purchasecache.New(time.Minute), nil)

	rec := serve(handler, authed(httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/check", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"hasActiveSubscription":true}`, rec.Body.String())
	assert.Nil(t, svc.lastSubProvider)

	rec = serve(handler, authed(httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/check?provider=polar", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastSubProvider)
	assert.Equal(t, enums.ProviderPolar, *svc.lastSubProvider)
	assert.Equal(t, 2, svc.subscriptionCalls)
}

func TestCreatePolarCheckout(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &fakeCheckout{url: "https://polar.sh/checkout/abc"}
		rec := serve(CreatePolarCheckout(true, svc, nil), authed(postCheckout(`{"product_id":"prod_1"}`)))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"success":true,"url":"https://polar.sh/checkout/abc"}`, rec.Body.String())
		assert.Equal(t, "prod_1", svc.last.ProductID)
		assert.Equal(t, "user@example.com", svc.last.CustomerEmail)
		assert.Equal(t, "user-1", svc.last.ExternalCustomerID)
	})

	t.Run("provider error is generic", func(t *testing.T) {
		svc := &fakeCheckout{err: pkgerrors.New(pkgerrors.CodeDependency, "polar said: secret detail")}
		rec := serve(CreatePolarCheckout(true, svc, nil), authed(postCheckout(`{"product_id":"prod_1"}`)))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "secret detail")
		assert.Equal(t, false, decode(t, rec)["success"])
	})

	t.Run("disabled", func(t *testing.T) {
		rec := serve(CreatePolarCheckout(false, &fakeCheckout{}, nil), authed(postCheckout(`{"product_id":"prod_1"}`)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing product", func(t *testing.T) {
		svc := &fakeCheckout{}
		rec := serve(CreatePolarCheckout(true, svc, nil), authed(postCheckout(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, svc.calls)
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithIdentity(req.Context(), "user-1", "user@example.com"))
}

func postCheckout(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/polar", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type fakeEntitlements struct {
	purchased         bool
	active            bool
	purchaseCalls     int
	subscriptionCalls int
	lastIdentity      payments.Identity
	lastProduct       string
	lastProvider      enums.Provider
	lastSubProvider   *enums.Provider
}

func (f *fakeEntitlements) HasUserPurchasedProduct(ctx context.Context, identity payments.Identity, productID string, provider enums.Provider) bool {
	f.purchaseCalls++
	f.lastIdentity = identity
	f.lastProduct = productID
	f.lastProvider = provider
	return f.purchased
}

func (f *fakeEntitlements) HasUserActiveSubscription(ctx context.Context, identity payments.Identity, provider *enums.Provider) bool {
	f.subscriptionCalls++
	f.lastSubProvider = provider
	return f.active
}

type fakeCheckout struct {
	url   string
	err   error
	calls int
	last  polar.CheckoutRequest
}

func (f *fakeCheckout) CreateCheckoutURL(ctx context.Context, req polar.CheckoutRequest) (string, error) {
	f.calls++
	f.last = req
	return f.url, f.err
}
