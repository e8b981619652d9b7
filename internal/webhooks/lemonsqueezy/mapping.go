package lemonwebhook

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/kitforge-backend/internal/normalize"
	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
)

const (
	EventOrderCreated                = "order_created"
	EventOrderRefunded               = "order_refunded"
	EventSubscriptionCreated         = "subscription_created"
	EventSubscriptionUpdated         = "subscription_updated"
	EventSubscriptionCancelled       = "subscription_cancelled"
	EventSubscriptionExpired         = "subscription_expired"
	EventSubscriptionPaymentSuccess  = "subscription_payment_success"
	EventSubscriptionPaymentFailed   = "subscription_payment_failed"
	EventSubscriptionPaymentRefunded = "subscription_payment_refunded"
)

// Event is the LemonSqueezy JSON:API webhook body.
type Event struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		TestMode   bool           `json:"test_mode"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		Type       string          `json:"type"`
		ID         string          `json:"id"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, webhooks.Malformed(err, "decode lemonsqueezy event")
	}
	if strings.TrimSpace(event.Meta.EventName) == "" {
		return nil, webhooks.Malformed(nil, "lemonsqueezy event name missing")
	}
	return &event, nil
}

type orderItem struct {
	ProductID   json.Number `json:"product_id"`
	VariantID   json.Number `json:"variant_id"`
	ProductName string      `json:"product_name"`
	VariantName string      `json:"variant_name"`
}

type orderAttributes struct {
	UserEmail      string      `json:"user_email"`
	Total          json.Number `json:"total"`
	Currency       string      `json:"currency"`
	Status         string      `json:"status"`
	Refunded       bool        `json:"refunded"`
	Identifier     string      `json:"identifier"`
	FirstOrderItem *orderItem  `json:"first_order_item"`
}

type subscriptionAttributes struct {
	OrderID     json.Number `json:"order_id"`
	ProductID   json.Number `json:"product_id"`
	VariantID   json.Number `json:"variant_id"`
	ProductName string      `json:"product_name"`
	VariantName string      `json:"variant_name"`
	UserEmail   string      `json:"user_email"`
	Status      string      `json:"status"`
	RenewsAt    *time.Time  `json:"renews_at"`
	EndsAt      *time.Time  `json:"ends_at"`
}

type invoiceAttributes struct {
	SubscriptionID json.Number `json:"subscription_id"`
	UserEmail      string      `json:"user_email"`
	Total          json.Number `json:"total"`
	Currency       string      `json:"currency"`
	Status         string      `json:"status"`
	Refunded       bool        `json:"refunded"`
}

// MapEvent translates a LemonSqueezy event into a normalized payment.
func MapEvent(event *Event) (*payments.NormalizedPayment, error) {
	if event == nil || len(event.Data.Attributes) == 0 {
		return nil, webhooks.Malformed(nil, "lemonsqueezy event data required")
	}

	var (
		out *payments.NormalizedPayment
		err error
	)
	switch event.Meta.EventName {
	case EventOrderCreated, EventOrderRefunded:
		out, err = mapOrder(event)
	case EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionCancelled, EventSubscriptionExpired:
		out, err = mapSubscription(event)
	case EventSubscriptionPaymentSuccess, EventSubscriptionPaymentFailed, EventSubscriptionPaymentRefunded:
		out, err = mapInvoice(event)
	default:
		return nil, webhooks.ErrIgnoredEvent
	}
	if err != nil {
		return nil, err
	}
	out.Provider = enums.ProviderLemonSqueezy
	out.EventType = event.Meta.EventName
	if out.UserID == "" {
		out.UserID = customString(event.Meta.CustomData, "user_id")
	}
	if event.Meta.TestMode {
		out.Metadata["test_mode"] = true
	}
	return out, nil
}

func mapOrder(event *Event) (*payments.NormalizedPayment, error) {
	var attrs orderAttributes
	if err := json.Unmarshal(event.Data.Attributes, &attrs); err != nil {
		return nil, webhooks.Malformed(err, "decode lemonsqueezy order")
	}

	status := orderStatus(attrs.Status)
	if event.Meta.EventName == EventOrderRefunded {
		// partial refunds keep access
		if !attrs.Refunded && attrs.Status != "refunded" {
			return nil, webhooks.ErrIgnoredEvent
		}
		status = enums.PaymentStatusRefunded
	}

	amount, err := amountFrom(attrs.Total)
	if err != nil {
		return nil, webhooks.Malformed(err, "normalize lemonsqueezy order total")
	}

	item := attrs.FirstOrderItem
	if item == nil {
		item = &orderItem{}
	}
	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		ProductName: item.ProductName,
		VariantName: item.VariantName,
		WebhookName: customString(event.Meta.CustomData, "product_name"),
		Description: customString(event.Meta.CustomData, "description"),
	})

	return &payments.NormalizedPayment{
		ExternalID:        externalID(event),
		Email:             attrs.UserEmail,
		AmountCents:       amount,
		Currency:          attrs.Currency,
		Status:            status,
		ProductID:         firstNonEmpty(customString(event.Meta.CustomData, "product_id"), item.ProductID.String()),
		ProductName:       name,
		ProductNameSource: source,
		Metadata: map[string]any{
			"order_identifier": attrs.Identifier,
			"variant_id":       item.VariantID.String(),
		},
	}, nil
}

func mapSubscription(event *Event) (*payments.NormalizedPayment, error) {
	var attrs subscriptionAttributes
	if err := json.Unmarshal(event.Data.Attributes, &attrs); err != nil {
		return nil, webhooks.Malformed(err, "decode lemonsqueezy subscription")
	}

	status, periodEnd := subscriptionState(attrs)
	if event.Meta.EventName == EventSubscriptionExpired {
		status = enums.PaymentStatusCanceled
	}

	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		ProductName: attrs.ProductName,
		VariantName: attrs.VariantName,
		WebhookName: customString(event.Meta.CustomData, "product_name"),
	})

	return &payments.NormalizedPayment{
		ExternalID:        externalID(event),
		Email:             attrs.UserEmail,
		Status:            status,
		ProductID:         firstNonEmpty(customString(event.Meta.CustomData, "product_id"), attrs.ProductID.String()),
		ProductName:       name,
		ProductNameSource: source,
		IsSubscription:    true,
		SubscriptionID:    event.Data.ID,
		PeriodEnd:         periodEnd,
		Metadata: map[string]any{
			"subscription_status": attrs.Status,
			"order_id":            attrs.OrderID.String(),
		},
	}, nil
}

// subscriptionState maps the LemonSqueezy status. A cancelled subscription
// stays paid until ends_at.
func subscriptionState(attrs subscriptionAttributes) (enums.PaymentStatus, *time.Time) {
	switch attrs.Status {
	case "active", "on_trial", "past_due":
		return enums.PaymentStatusPaid, attrs.RenewsAt
	case "cancelled":
		if attrs.EndsAt == nil {
			return enums.PaymentStatusCanceled, nil
		}
		return enums.PaymentStatusPaid, attrs.EndsAt
	case "expired":
		return enums.PaymentStatusCanceled, attrs.EndsAt
	case "paused", "unpaid":
		return enums.PaymentStatusFailed, attrs.RenewsAt
	default:
		return enums.PaymentStatusPending, attrs.RenewsAt
	}
}

func mapInvoice(event *Event) (*payments.NormalizedPayment, error) {
	var attrs invoiceAttributes
	if err := json.Unmarshal(event.Data.Attributes, &attrs); err != nil {
		return nil, webhooks.Malformed(err, "decode lemonsqueezy subscription invoice")
	}
	subscriptionID := attrs.SubscriptionID.String()
	if subscriptionID == "" {
		return nil, webhooks.Malformed(nil, "subscription invoice without subscription id")
	}

	amount, err := amountFrom(attrs.Total)
	if err != nil {
		return nil, webhooks.Malformed(err, "normalize lemonsqueezy invoice total")
	}

	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		WebhookName: customString(event.Meta.CustomData, "product_name"),
		Description: customString(event.Meta.CustomData, "description"),
	})

	out := &payments.NormalizedPayment{
		Email:             attrs.UserEmail,
		AmountCents:       amount,
		Currency:          attrs.Currency,
		ProductID:         customString(event.Meta.CustomData, "product_id"),
		ProductName:       name,
		ProductNameSource: source,
		SubscriptionID:    subscriptionID,
		Metadata: map[string]any{
			"invoice_id":     event.Data.ID,
			"invoice_status": attrs.Status,
		},
	}

	switch event.Meta.EventName {
	case EventSubscriptionPaymentRefunded:
		// refunds are recorded on the invoice, the subscription row follows
		// its own lifecycle events
		out.ExternalID = externalID(event)
		out.Status = enums.PaymentStatusRefunded
	case EventSubscriptionPaymentFailed:
		out.ExternalID = "subscriptions:" + subscriptionID
		out.IsSubscription = true
		out.Status = enums.PaymentStatusFailed
	default:
		out.ExternalID = "subscriptions:" + subscriptionID
		out.IsSubscription = true
		out.Status = enums.PaymentStatusPaid
	}
	return out, nil
}

// externalID namespaces ids by resource type; LemonSqueezy numbers orders,
// subscriptions and invoices independently.
func externalID(event *Event) string {
	if event.Data.ID == "" {
		return ""
	}
	kind := event.Data.Type
	if kind == "" {
		kind = "orders"
	}
	return kind + ":" + event.Data.ID
}

func orderStatus(s string) enums.PaymentStatus {
	switch s {
	case "paid":
		return enums.PaymentStatusPaid
	case "failed":
		return enums.PaymentStatusFailed
	case "refunded":
		return enums.PaymentStatusRefunded
	default:
		return enums.PaymentStatusPending
	}
}

func amountFrom(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	return normalize.NormalizeAmount(n)
}

func customString(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
