package stripewebhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/kitforge-backend/internal/normalize"
	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/internal/webhooks"
	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
	"github.com/stripe/stripe-go/v84"
)

// Event data is decoded into these local shapes rather than stripe-go's
// resource types so payloads from older API versions still map.

type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       *int64            `json:"amount_total"`
	Currency          string            `json:"currency"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   *customerDetails  `json:"customer_details"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	PaymentIntent     json.RawMessage   `json:"payment_intent"`
	Subscription      json.RawMessage   `json:"subscription"`
	LineItems         *lineItemList     `json:"line_items"`
}

type customerDetails struct {
	Email string `json:"email"`
}

type lineItemList struct {
	Data []lineItem `json:"data"`
}

type lineItem struct {
	Description string     `json:"description"`
	Price       *priceInfo `json:"price"`
	Period      *period    `json:"period"`
}

type priceInfo struct {
	ID       string          `json:"id"`
	Nickname string          `json:"nickname"`
	Product  json.RawMessage `json:"product"`
}

type period struct {
	End int64 `json:"end"`
}

type paymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ReceiptEmail string            `json:"receipt_email"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
}

type charge struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Refunded       bool              `json:"refunded"`
	Currency       string            `json:"currency"`
	ReceiptEmail   string            `json:"receipt_email"`
	BillingDetails *customerDetails  `json:"billing_details"`
	Description    string            `json:"description"`
	PaymentIntent  json.RawMessage   `json:"payment_intent"`
	Metadata       map[string]string `json:"metadata"`
}

type invoice struct {
	ID            string            `json:"id"`
	AmountPaid    int64             `json:"amount_paid"`
	AmountDue     int64             `json:"amount_due"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	Description   string            `json:"description"`
	Subscription  json.RawMessage   `json:"subscription"`
	Parent        *invoiceParent    `json:"parent"`
	Lines         *lineItemList     `json:"lines"`
	Metadata      map[string]string `json:"metadata"`
}

type invoiceParent struct {
	SubscriptionDetails *struct {
		Subscription json.RawMessage   `json:"subscription"`
		Metadata     map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

type subscription struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	EndedAt  int64             `json:"ended_at"`
	Metadata map[string]string `json:"metadata"`
}

// MapEvent translates a verified Stripe event into a normalized payment.
// Unsupported event types return webhooks.ErrIgnoredEvent.
func MapEvent(event *stripe.Event) (*payments.NormalizedPayment, error) {
	if event == nil || event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	var (
		out *payments.NormalizedPayment
		err error
	)
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		out, err = mapCheckoutSession(event)
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		out, err = mapPaymentIntent(event)
	case stripe.EventTypeChargeRefunded:
		out, err = mapChargeRefunded(event)
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		out, err = mapInvoice(event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		out, err = mapSubscriptionDeleted(event)
	default:
		return nil, webhooks.ErrIgnoredEvent
	}
	if err != nil {
		return nil, err
	}
	out.Provider = enums.ProviderStripe
	out.EventType = string(event.Type)
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	out.Metadata["event_id"] = event.ID
	return out, nil
}

func mapCheckoutSession(event *stripe.Event) (*payments.NormalizedPayment, error) {
	var session checkoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, webhooks.Malformed(err, "decode checkout session")
	}

	status := enums.PaymentStatusPaid
	switch event.Type {
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		status = enums.PaymentStatusFailed
	case stripe.EventTypeCheckoutSessionCompleted:
		if session.PaymentStatus == "unpaid" {
			status = enums.PaymentStatusPending
		}
	}

	amount, err := amountOrZero(session.AmountTotal)
	if err != nil {
		return nil, webhooks.Malformed(err, "normalize checkout amount")
	}

	first := firstLine(session.LineItems)
	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		ProductName:   session.Metadata["product_name"],
		VariantName:   firstNonEmpty(session.Metadata["variant_name"], priceNickname(first)),
		WebhookName:   expandedName(priceProduct(first)),
		Description:   session.Metadata["description"],
		FirstItemName: lineDescription(first),
	})

	subscriptionID := expandableID(session.Subscription)
	isSubscription := session.Mode == "subscription" && subscriptionID != ""

	// one-time payments are keyed on the payment intent so later intent and
	// refund events land on the same row
	externalID := session.ID
	switch {
	case isSubscription:
		externalID = subscriptionID
	case expandableID(session.PaymentIntent) != "":
		externalID = expandableID(session.PaymentIntent)
	}

	email := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email = session.CustomerDetails.Email
	}

	return &payments.NormalizedPayment{
		ExternalID:        externalID,
		Email:             firstNonEmpty(email, session.Metadata["email"]),
		UserID:            firstNonEmpty(session.ClientReferenceID, session.Metadata["user_id"]),
		AmountCents:       amount,
		Currency:          session.Currency,
		Status:            status,
		ProductID:         firstNonEmpty(session.Metadata["product_id"], expandableID(priceProduct(first)), priceID(first)),
		ProductName:       name,
		ProductNameSource: source,
		IsSubscription:    isSubscription,
		SubscriptionID:    subscriptionID,
		Metadata:          map[string]any{"checkout_session_id": session.ID},
	}, nil
}

func mapPaymentIntent(event *stripe.Event) (*payments.NormalizedPayment, error) {
	var intent paymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, webhooks.Malformed(err, "decode payment intent")
	}

	status := enums.PaymentStatusPaid
	if event.Type == stripe.EventTypePaymentIntentPaymentFailed {
		status = enums.PaymentStatusFailed
	}

	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		ProductName: intent.Metadata["product_name"],
		VariantName: intent.Metadata["variant_name"],
		Description: intent.Description,
	})

	return &payments.NormalizedPayment{
		ExternalID:        intent.ID,
		Email:             firstNonEmpty(intent.ReceiptEmail, intent.Metadata["email"]),
		UserID:            intent.Metadata["user_id"],
		AmountCents:       intent.Amount,
		Currency:          intent.Currency,
		Status:            status,
		ProductID:         intent.Metadata["product_id"],
		ProductName:       name,
		ProductNameSource: source,
	}, nil
}

func mapChargeRefunded(event *stripe.Event) (*payments.NormalizedPayment, error) {
	var ch charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return nil, webhooks.Malformed(err, "decode charge")
	}
	// partial refunds leave the purchase in place
	if !ch.Refunded {
		return nil, webhooks.ErrIgnoredEvent
	}

	email := ch.ReceiptEmail
	if ch.BillingDetails != nil && ch.BillingDetails.Email != "" {
		email = ch.BillingDetails.Email
	}

	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		ProductName: ch.Metadata["product_name"],
		Description: ch.Description,
	})

	return &payments.NormalizedPayment{
		ExternalID:        firstNonEmpty(expandableID(ch.PaymentIntent), ch.ID),
		Email:             email,
		UserID:            ch.Metadata["user_id"],
		AmountCents:       ch.Amount,
		Currency:          ch.Currency,
		Status:            enums.PaymentStatusRefunded,
		ProductID:         ch.Metadata["product_id"],
		ProductName:       name,
		ProductNameSource: source,
		Metadata:          map[string]any{"charge_id": ch.ID, "amount_refunded": ch.AmountRefunded},
	}, nil
}

func mapInvoice(event *stripe.Event) (*payments.NormalizedPayment, error) {
	var inv invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, webhooks.Malformed(err, "decode invoice")
	}

	subscriptionID := expandableID(inv.Subscription)
	meta := inv.Metadata
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		subscriptionID = firstNonEmpty(subscriptionID, expandableID(inv.Parent.SubscriptionDetails.Subscription))
		if len(inv.Parent.SubscriptionDetails.Metadata) > 0 {
			meta = inv.Parent.SubscriptionDetails.Metadata
		}
	}
	// one-off invoices are not part of the purchase flow
	if subscriptionID == "" {
		return nil, webhooks.ErrIgnoredEvent
	}

	status := enums.PaymentStatusPaid
	amount := inv.AmountPaid
	if event.Type == stripe.EventTypeInvoicePaymentFailed {
		status = enums.PaymentStatusFailed
		amount = inv.AmountDue
	}

	first := firstLine(inv.Lines)
	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		ProductName:   meta["product_name"],
		VariantName:   firstNonEmpty(meta["variant_name"], priceNickname(first)),
		WebhookName:   expandedName(priceProduct(first)),
		Description:   inv.Description,
		FirstItemName: lineDescription(first),
	})

	var periodEnd *time.Time
	if first != nil && first.Period != nil && first.Period.End > 0 {
		end := time.Unix(first.Period.End, 0).UTC()
		periodEnd = &end
	}

	return &payments.NormalizedPayment{
		ExternalID:        subscriptionID,
		Email:             inv.CustomerEmail,
		UserID:            meta["user_id"],
		AmountCents:       amount,
		Currency:          inv.Currency,
		Status:            status,
		ProductID:         firstNonEmpty(meta["product_id"], expandableID(priceProduct(first)), priceID(first)),
		ProductName:       name,
		ProductNameSource: source,
		IsSubscription:    true,
		SubscriptionID:    subscriptionID,
		PeriodEnd:         periodEnd,
		Metadata:          map[string]any{"invoice_id": inv.ID},
	}, nil
}

func mapSubscriptionDeleted(event *stripe.Event) (*payments.NormalizedPayment, error) {
	var sub subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, webhooks.Malformed(err, "decode subscription")
	}

	name, source := normalize.ExtractProductName(normalize.ProductCandidates{
		ProductName: sub.Metadata["product_name"],
	})

	out := &payments.NormalizedPayment{
		ExternalID:        sub.ID,
		Email:             sub.Metadata["email"],
		UserID:            sub.Metadata["user_id"],
		Status:            enums.PaymentStatusCanceled,
		ProductID:         sub.Metadata["product_id"],
		ProductName:       name,
		ProductNameSource: source,
		IsSubscription:    true,
		SubscriptionID:    sub.ID,
	}
	if sub.EndedAt > 0 {
		end := time.Unix(sub.EndedAt, 0).UTC()
		out.PeriodEnd = &end
	}
	return out, nil
}

func amountOrZero(v *int64) (int64, error) {
	if v == nil {
		return 0, nil
	}
	return normalize.NormalizeAmount(*v)
}

// expandableID reads a field that is either an id string or an expanded
// object carrying an id.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func expandedName(raw json.RawMessage) string {
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return obj.Name
}

func firstLine(list *lineItemList) *lineItem {
	if list == nil || len(list.Data) == 0 {
		return nil
	}
	return &list.Data[0]
}

func lineDescription(item *lineItem) string {
	if item == nil {
		return ""
	}
	return item.Description
}

func priceNickname(item *lineItem) string {
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.Nickname
}

func priceID(item *lineItem) string {
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

func priceProduct(item *lineItem) json.RawMessage {
	if item == nil || item.Price == nil {
		return nil
	}
	return item.Price.Product
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
