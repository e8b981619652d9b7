// Package billingclient calls the purchase and checkout actions of the
// billing API from another Go service. Entitlement answers are cached per
// user so repeated checks inside one page render stay local.
package billingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/angelmondragon/kitforge-backend/pkg/purchasecache"
)

const (
	purchasePath     = "/api/v1/purchases/check"
	subscriptionPath = "/api/v1/subscriptions/check"
	checkoutPath     = "/api/v1/checkout/polar"

	responseBodyReadLimit int64 = 64 << 10
	defaultTimeout              = 10 * time.Second
)

// Caller identifies the signed-in user. Token is the bearer token the API
// authenticates; UserID scopes the local cache.
type Caller struct {
	UserID string
	Token  string
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      *purchasecache.Cache
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCache shares a cache with the caller. A nil cache disables caching.
func WithCache(cache *purchasecache.Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("billing api base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("parse billing api base url: %w", err)
	}
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    trimmed,
		cache:      purchasecache.New(purchasecache.DefaultTTL),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type actionResult struct {
	Success               bool   `json:"success"`
	Error                 string `json:"error"`
	HasPurchased          bool   `json:"hasPurchased"`
	HasActiveSubscription bool   `json:"hasActiveSubscription"`
	URL                   string `json:"url"`
}

// CheckPurchase reports whether the caller bought productID from provider.
func (c *Client) CheckPurchase(ctx context.Context, caller Caller, productID string, provider enums.Provider) (bool, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if !provider.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid provider")
	}

	key := purchasecache.PurchaseKey(caller.UserID, productID, provider.String())
	if owned, ok := c.cache.Get(key); ok {
		return owned, nil
	}

	q := url.Values{}
	q.Set("product_id", productID)
	q.Set("provider", provider.String())
	res, err := c.do(ctx, caller, http.MethodGet, purchasePath+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, res.HasPurchased, caller.UserID)
	return res.HasPurchased, nil
}

// CheckSubscription reports whether the caller has a live subscription. A nil
// provider accepts any provider.
func (c *Client) CheckSubscription(ctx context.Context, caller Caller, provider *enums.Provider) (bool, error) {
	path := subscriptionPath
	var providerName string
	if provider != nil {
		if !provider.IsValid() {
			return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid provider")
		}
		providerName = provider.String()
		path += "?" + url.Values{"provider": {providerName}}.Encode()
	}

	key := purchasecache.SubscriptionKey(caller.UserID, providerName)
	if active, ok := c.cache.Get(key); ok {
		return active, nil
	}
	res, err := c.do(ctx, caller, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, res.HasActiveSubscription, caller.UserID)
	return res.HasActiveSubscription, nil
}

// CreatePolarCheckout returns the hosted checkout URL for productID. The
// caller's cached answers are dropped since a purchase is likely to follow.
func (c *Client) CreatePolarCheckout(ctx context.Context, caller Caller, productID string) (string, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	body, err := json.Marshal(map[string]string{"product_id": productID})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal checkout request")
	}
	res, err := c.do(ctx, caller, http.MethodPost, checkoutPath, body)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.URL) == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "checkout response missing url")
	}
	c.Invalidate(caller.UserID)
	return res.URL, nil
}

// Invalidate drops every cached answer for userID.
func (c *Client) Invalidate(userID string) {
	c.cache.InvalidateOwner(userID)
}

func (c *Client) do(ctx context.Context, caller Caller, method, path string, body []byte) (*actionResult, error) {
	if strings.TrimSpace(caller.Token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "Not authenticated")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build billing request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+caller.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute billing request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read billing response")
	}
	var res actionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, pkgerrors.Wrap(codeForStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), "decode billing response")
	}
	if resp.StatusCode >= http.StatusBadRequest || !res.Success {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("billing request failed with status %d", resp.StatusCode)
		}
		return nil, pkgerrors.New(codeForStatus(resp.StatusCode), msg)
	}
	return &res, nil
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeFeatureDisabled
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	default:
		return pkgerrors.CodeDependency
	}
}
