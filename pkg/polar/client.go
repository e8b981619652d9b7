package polar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/kitforge-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
)

const (
	ProductionBaseURL = "https://api.polar.sh"
	SandboxBaseURL    = "https://sandbox-api.polar.sh"

	responseBodyReadLimit int64 = 1024
)

var errAccessTokenRequired = errors.New("polar access token is required")

// Client calls the Polar REST API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	successURL  string
}

// Option configures optional client behavior.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the server selected from config.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a client for the configured server ("sandbox" or "production").
func NewClient(cfg config.PolarConfig, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     BaseURLFor(cfg.Server),
		accessToken: token,
		successURL:  strings.TrimSpace(cfg.SuccessURL),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// BaseURLFor maps a server name to its API host. Anything but "production"
// stays on the sandbox.
func BaseURLFor(server string) string {
	if strings.EqualFold(strings.TrimSpace(server), "production") {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

type CheckoutRequest struct {
	ProductID          string
	CustomerEmail      string
	ExternalCustomerID string
	Metadata           map[string]string
}

type checkoutPayload struct {
	Products           []string          `json:"products"`
	CustomerEmail      string            `json:"customer_email,omitempty"`
	ExternalCustomerID string            `json:"external_customer_id,omitempty"`
	SuccessURL         string            `json:"success_url,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// CreateCheckoutURL opens a checkout session and returns its hosted URL.
func (c *Client) CreateCheckoutURL(ctx context.Context, req CheckoutRequest) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeFeatureDisabled, "polar client not configured")
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	payload, err := json.Marshal(checkoutPayload{
		Products:           []string{productID},
		CustomerEmail:      strings.TrimSpace(req.CustomerEmail),
		ExternalCustomerID: strings.TrimSpace(req.ExternalCustomerID),
		SuccessURL:         c.successURL,
		Metadata:           req.Metadata,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal checkout request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("v1/checkouts/"), bytes.NewReader(payload))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build checkout request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute checkout request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return "", pkgerrors.Wrap(codeForStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "checkout request failed")
	}

	var apiResp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout response")
	}
	if strings.TrimSpace(apiResp.URL) == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "checkout response missing url")
	}
	return apiResp.URL, nil
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status == http.StatusNotFound, status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))
}
