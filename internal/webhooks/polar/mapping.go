package polarwebhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/kitforge-backend/internal/normalize"
	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
)

const (
	EventOrderCreated         = "order.created"
	EventOrderPaid            = "order.paid"
	EventOrderRefunded        = "order.refunded"
	EventSubscriptionActive   = "subscription.active"
	EventSubscriptionCanceled = "subscription.canceled"
	EventSubscriptionRevoked  = "subscription.revoked"
)

// Event is the Polar webhook envelope.
type Event struct {
	Type      string          `json:"type"`
	Timestamp *time.Time      `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ParseEvent decodes the envelope without interpreting data.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, webhooks.Malformed(err, "decode polar event")
	}
	if strings.TrimSpace(event.Type) == "" {
		return nil, webhooks.Malformed(nil, "polar event type missing")
	}
	return &event, nil
}

type customer struct {
	Email      string `json:"email"`
	ExternalID string `json:"external_id"`
}

type product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type orderItem struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

type order struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	TotalAmount    json.Number    `json:"total_amount"`
	Amount         json.Number    `json:"amount"`
	Currency       string         `json:"currency"`
	Description    string         `json:"description"`
	ProductID      string         `json:"product_id"`
	SubscriptionID string         `json:"subscription_id"`
	BillingReason  string         `json:"billing_reason"`
	Customer       *customer      `json:"customer"`
	Product        *product       `json:"product"`
	Items          []orderItem    `json:"items"`
	Metadata       map[string]any `json:"metadata"`
}

type subscription struct {
	ID               string         `json:"id"`
	Status           string         `json:"status"`
	Amount           json.Number    `json:"amount"`
	Currency         string         `json:"currency"`
	CurrentPeriodEnd *time.Time     `json:"current_period_end"`
	EndsAt           *time.Time     `json:"ends_at"`
	EndedAt          *time.Time     `json:"ended_at"`
	ProductID        string         `json:"product_id"`
	Customer         *customer      `json:"customer"`
	Product          *product       `json:"product"`
	Metadata         map[string]any `json:"metadata"`
}

// MapEvent translates a Polar event into a normalized payment. now decides
// whether a canceled subscription is still inside its paid period.
func MapEvent(event *Event, now time.Time) (*payments.NormalizedPayment, error) {
	if event == nil || len(event.Data) == 0 {
		return nil, webhooks.Malformed(nil, "polar event data required")
	}

	var (
		out *payments.NormalizedPayment
		err error
	)
	switch event.Type {
	case EventOrderCreated, EventOrderPaid, EventOrderRefunded:
		out, err = mapOrder(event)
	case EventSubscriptionActive, EventSubscriptionCanceled, EventSubscriptionRevoked:
		out, err = mapSubscription(event, now)
	default:
		return nil, webhooks.ErrIgnoredEvent
	}
	if err != nil {
		return nil, err
	}
	out.Provider = enums.ProviderPolar
	out.EventType = event.Type
	return out, nil
}

func mapOrder(event *Event) (*payments.NormalizedPayment, error) {
	var o order
	if err := json.Unmarshal(event.Data, &o); err != nil {
		return nil, webhooks.Malformed(err, "decode polar order")
	}

	var status enums.PaymentStatus
	switch event.Type {
	case EventOrderPaid:
		status = enums.PaymentStatusPaid
	case EventOrderRefunded:
		// partial refunds keep access
		if o.Status != "" && o.Status != "refunded" {
			return nil, webhooks.ErrIgnoredEvent
		}
		status = enums.PaymentStatusRefunded
	default:
		status = orderStatus(o.Status)
	}

	raw := o.TotalAmount
	if raw == "" {
		raw = o.Amount
	}
	amount, err := amountFrom(raw)
	if err != nil {
		return nil, webhooks.Malformed(err, "normalize polar order amount")
	}

	var first string
	if len(o.Items) > 0 {
		first = o.Items[0].Name
		if strings.TrimSpace(first) == "" {
			first = o.Items[0].Label
		}
	}
	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		ProductName:   productName(o.Product),
		VariantName:   metaString(o.Metadata, "variant_name"),
		WebhookName:   metaString(o.Metadata, "product_name"),
		Description:   o.Description,
		FirstItemName: first,
	})

	productID := o.ProductID
	if productID == "" && o.Product != nil {
		productID = o.Product.ID
	}

	return &payments.NormalizedPayment{
		ExternalID:        o.ID,
		Email:             customerEmail(o.Customer),
		UserID:            userID(o.Customer, o.Metadata),
		AmountCents:       amount,
		Currency:          o.Currency,
		Status:            status,
		ProductID:         productID,
		ProductName:       name,
		ProductNameSource: source,
		SubscriptionID:    o.SubscriptionID,
		Metadata: map[string]any{
			"billing_reason": o.BillingReason,
			"order_status":   o.Status,
		},
	}, nil
}

func mapSubscription(event *Event, now time.Time) (*payments.NormalizedPayment, error) {
	var s subscription
	if err := json.Unmarshal(event.Data, &s); err != nil {
		return nil, webhooks.Malformed(err, "decode polar subscription")
	}

	status := enums.PaymentStatusPaid
	periodEnd := s.CurrentPeriodEnd
	switch event.Type {
	case EventSubscriptionCanceled:
		// cancel at period end keeps the subscription usable until then
		end := s.EndsAt
		if end == nil {
			end = s.CurrentPeriodEnd
		}
		if end == nil || !end.After(now) {
			status = enums.PaymentStatusCanceled
		}
		periodEnd = end
	case EventSubscriptionRevoked:
		status = enums.PaymentStatusCanceled
		if s.EndedAt != nil {
			periodEnd = s.EndedAt
		}
	}

	amount, err := amountFrom(s.Amount)
	if err != nil {
		return nil, webhooks.Malformed(err, "normalize polar subscription amount")
	}

	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		ProductName: productName(s.Product),
		VariantName: metaString(s.Metadata, "variant_name"),
		WebhookName: metaString(s.Metadata, "product_name"),
	})

	productID := s.ProductID
	if productID == "" && s.Product != nil {
		productID = s.Product.ID
	}

	return &payments.NormalizedPayment{
		ExternalID:        s.ID,
		Email:             customerEmail(s.Customer),
		UserID:            userID(s.Customer, s.Metadata),
		AmountCents:       amount,
		Currency:          s.Currency,
		Status:            status,
		ProductID:         productID,
		ProductName:       name,
		ProductNameSource: source,
		IsSubscription:    true,
		SubscriptionID:    s.ID,
		PeriodEnd:         periodEnd,
		Metadata:          map[string]any{"subscription_status": s.Status},
	}, nil
}

func orderStatus(s string) enums.PaymentStatus {
	switch strings.ToLower(s) {
	case "paid", "partially_refunded":
		return enums.PaymentStatusPaid
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

func productName(p *product) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func customerEmail(c *customer) string {
	if c == nil {
		return ""
	}
	return c.Email
}

func userID(c *customer, meta map[string]any) string {
	if c != nil && strings.TrimSpace(c.ExternalID) != "" {
		return c.ExternalID
	}
	return metaString(meta, "user_id")
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
