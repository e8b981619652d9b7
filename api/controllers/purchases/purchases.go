package purchases

import (
	"context"
	"net/http"

	"github.com/angelmondragon/kitforge-backend/api/middleware"
	"github.com/angelmondragon/kitforge-backend/api/responses"
	"github.com/angelmondragon/kitforge-backend/api/validators"
	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/polar"
	"github.com/angelmondragon/kitforge-backend/pkg/purchasecache"
)

const maxProductIDLen = 128

// EntitlementService answers purchase questions. Both methods report false
// instead of failing when storage is unavailable.
type EntitlementService interface {
	HasUserPurchasedProduct(ctx context.Context, identity payments.Identity, productID string, provider enums.Provider) bool
	HasUserActiveSubscription(ctx context.Context, identity payments.Identity, provider *enums.Provider) bool
}

type CheckoutService interface {
	CreateCheckoutURL(ctx context.Context, req polar.CheckoutRequest) (string, error)
}

type purchaseCheckResponse struct {
	Success      bool `json:"success"`
	HasPurchased bool `json:"hasPurchased"`
}

type subscriptionCheckResponse struct {
	Success               bool `json:"success"`
	HasActiveSubscription bool `json:"hasActiveSubscription"`
}

type checkoutRequest struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
}

type checkoutResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// CheckPurchase answers whether the caller bought product_id from provider.
func CheckPurchase(svc EntitlementService, cache *purchasecache.Cache, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity, err := callerIdentity(ctx)
		if err != nil {
			responses.WriteActionError(ctx, logg, w, err, "Not authenticated")
			return
		}
		productID, err := validators.RequireQuery(r, "product_id", maxProductIDLen)
		if err != nil {
			responses.WriteActionError(ctx, logg, w, err, "Invalid request")
			return
		}
		provider, err := validators.ParseProviderQuery(r, "provider")
		if err != nil {
			responses.WriteActionError(ctx, logg, w, err, "Invalid request")
			return
		}
		if provider == nil {
			responses.WriteActionError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "provider is required"), "Invalid request")
			return
		}

		key := purchasecache.PurchaseKey(identity.UserID, productID, provider.String())
		if owned, ok := cache.Get(key); ok {
			responses.WriteJSON(w, http.StatusOK, purchaseCheckResponse{Success: true, HasPurchased: owned})
			return
		}
		owned := svc.HasUserPurchasedProduct(ctx, identity, productID, *provider)
		cache.Set(key, owned, identity.UserID, identity.Email)
		responses.WriteJSON(w, http.StatusOK, purchaseCheckResponse{Success: true, HasPurchased: owned})
	}
}

// CheckSubscription answers whether the caller has a live subscription,
// optionally limited to one provider.
func CheckSubscription(svc EntitlementService, cache *purchasecache.Cache, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity, err := callerIdentity(ctx)
		if err != nil {
			responses.WriteActionError(ctx, logg, w, err, "Not authenticated")
			return
		}
		provider, err := validators.ParseProviderQuery(r, "provider")
		if err != nil {
			responses.WriteActionError(ctx, logg, w, err, "Invalid request")
			return
		}

		var providerName string
		if provider != nil {
			providerName = provider.String()
		}
		key := purchasecache.SubscriptionKey(identity.UserID, providerName)
		if active, ok := cache.Get(key); ok {
			responses.WriteJSON(w, http.StatusOK, subscriptionCheckResponse{Success: true, HasActiveSubscription: active})
			return
		}
		active := svc.HasUserActiveSubscription(ctx, identity, provider)
		cache.Set(key, active, identity.UserID, identity.Email)
		responses.WriteJSON(w, http.StatusOK, subscriptionCheckResponse{Success: true, HasActiveSubscription: active})
	}
}

// CreatePolarCheckout opens a Polar checkout for the caller. Provider errors
// are logged and replaced with a generic message.
func CreatePolarCheckout(enabled bool, svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !enabled || svc == nil {
			responses.WriteActionError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeFeatureDisabled, "polar checkout disabled"), "Checkout is not available")
			return
		}
		identity, err := callerIdentity(ctx)
		if err != nil {
			responses.WriteActionError(ctx, logg, w, err, "Not authenticated")
			return
		}
		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteActionError(ctx, logg, w, err, "Invalid request")
			return
		}

		url, err := svc.CreateCheckoutURL(ctx, polar.CheckoutRequest{
			ProductID:          req.ProductID,
			CustomerEmail:      identity.Email,
			ExternalCustomerID: identity.UserID,
			Metadata:           map[string]string{"user_id": identity.UserID},
		})
		if err != nil {
			responses.WriteActionError(ctx, logg, w, err, "Failed to create checkout. Please try again.")
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "product_id", req.ProductID), "checkout.created")
		}
		responses.WriteJSON(w, http.StatusOK, checkoutResponse{Success: true, URL: url})
	}
}

func callerIdentity(ctx context.Context) (payments.Identity, error) {
	identity := payments.Identity{
		UserID: middleware.UserIDFromContext(ctx),
		Email:  middleware.EmailFromContext(ctx),
	}
	if identity.UserID == "" {
		return identity, pkgerrors.New(pkgerrors.CodeUnauthorized, "Not authenticated")
	}
	return identity, nil
}
