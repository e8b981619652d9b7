package billingclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
)

var caller = Caller{UserID: "user-1", Token: "token-1"}

type fakeAPI struct {
	calls     atomic.Int32
	mu        sync.Mutex
	purchased bool
	active    bool
	status    int
	lastQuery string
	lastBody  map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = r.URL.RawQuery
	w.Header().Set("Content-Type", "application/json")
	if r.Header.Get("Authorization") != "Bearer token-1" {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Not authenticated"})
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Failed to create checkout. Please try again."})
		return
	}
	switch r.URL.Path {
	case purchasePath:
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "hasPurchased": f.purchased})
	case subscriptionPath:
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "hasActiveSubscription": f.active})
	case checkoutPath:
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "url": "https://polar.test/checkout/1"})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) query() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func (f *fakeAPI) setPurchased(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purchased = v
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client, err := New(srv.URL + "/")
	require.NoError(t, err)
	return client
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}

func TestCheckPurchaseCachesAnswer(t *testing.T) {
	api := &fakeAPI{purchased: true}
	client := newTestClient(t, api)
	ctx := context.Background()

	owned, err := client.CheckPurchase(ctx, caller, "prod_1", enums.ProviderPolar)
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, "product_id=prod_1&provider=polar", api.query())

	api.setPurchased(false)
	owned, err = client.CheckPurchase(ctx, caller, "prod_1", enums.ProviderPolar)
	require.NoError(t, err)
	assert.True(t, owned, "second call should be served from cache")
	assert.EqualValues(t, 1, api.calls.Load())

	client.Invalidate(caller.UserID)
	owned, err = client.CheckPurchase(ctx, caller, "prod_1", enums.ProviderPolar)
	require.NoError(t, err)
	assert.False(t, owned)
	assert.EqualValues(t, 2, api.calls.Load())
}

func TestCheckPurchaseValidation(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api)

	_, err := client.CheckPurchase(context.Background(), caller, " ", enums.ProviderStripe)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = client.CheckPurchase(context.Background(), caller, "prod_1", enums.Provider("paypal"))
	require.Error(t, err)
	assert.Zero(t, api.calls.Load())
}

func TestCheckSubscriptionProviderScopes(t *testing.T) {
	api := &fakeAPI{active: true}
	client := newTestClient(t, api)
	ctx := context.Background()

	active, err := client.CheckSubscription(ctx, caller, nil)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Empty(t, api.query())

	provider := enums.ProviderStripe
	active, err = client.CheckSubscription(ctx, caller, &provider)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, "provider=stripe", api.query())
	assert.EqualValues(t, 2, api.calls.Load(), "any-provider and stripe answers are cached separately")
}

func TestUnauthenticatedCaller(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api)

	_, err := client.CheckSubscription(context.Background(), Caller{UserID: "user-1"}, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
	assert.Zero(t, api.calls.Load())

	_, err = client.CheckSubscription(context.Background(), Caller{UserID: "user-1", Token: "wrong"}, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
	assert.Equal(t, "Not authenticated", pkgerrors.As(err).Message())
}

func TestCreatePolarCheckout(t *testing.T) {
	api := &fakeAPI{purchased: true}
	client := newTestClient(t, api)
	ctx := context.Background()

	_, err := client.CheckPurchase(ctx, caller, "prod_1", enums.ProviderPolar)
	require.NoError(t, err)

	url, err := client.CreatePolarCheckout(ctx, caller, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, "https://polar.test/checkout/1", url)
	api.mu.Lock()
	assert.Equal(t, map[string]string{"product_id": "prod_1"}, api.lastBody)
	api.mu.Unlock()

	_, err = client.CheckPurchase(ctx, caller, "prod_1", enums.ProviderPolar)
	require.NoError(t, err)
	assert.EqualValues(t, 3, api.calls.Load(), "checkout drops cached answers")
}

func TestCreatePolarCheckoutFailure(t *testing.T) {
	api := &fakeAPI{status: http.StatusInternalServerError}
	client := newTestClient(t, api)

	_, err := client.CreatePolarCheckout(context.Background(), caller, "prod_1")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
	assert.Equal(t, "Failed to create checkout. Please try again.", typed.Message())
	assert.True(t, pkgerrors.IsTransient(err))
}
