package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/kitforge-backend/api/responses"
	"github.com/angelmondragon/kitforge-backend/api/validators"
	"github.com/angelmondragon/kitforge-backend/internal/payments"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
	"github.com/angelmondragon/kitforge-backend/pkg/pagination"
)

const maxEmailLen = 254

type PaymentLister interface {
	ListPayments(ctx context.Context, email string, params pagination.Params) (*payments.PaymentPage, error)
}

type adminPaymentResponse struct {
	ID                string     `json:"id"`
	Provider          string     `json:"provider"`
	ExternalID        string     `json:"external_id"`
	Email             string     `json:"email"`
	UserID            *string    `json:"user_id,omitempty"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	ProductID         *string    `json:"product_id,omitempty"`
	ProductName       string     `json:"product_name"`
	ProductNameSource string     `json:"product_name_source"`
	IsSubscription    bool       `json:"is_subscription"`
	SubscriptionID    *string    `json:"subscription_id,omitempty"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
	EventType         string     `json:"event_type"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AdminListPayments returns the payment audit trail for one purchaser email.
func AdminListPayments(svc PaymentLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		email, err := validators.RequireQuery(r, "email", maxEmailLen)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListPayments(ctx, email, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]adminPaymentResponse, 0, len(page.Payments))
		for _, p := range page.Payments {
			out = append(out, adminPaymentResponse{
				ID:                p.ID.String(),
				Provider:          p.Provider.String(),
				ExternalID:        p.ExternalID,
				Email:             p.Email,
				UserID:            p.UserID,
				AmountCents:       p.AmountCents,
				Currency:          p.Currency,
				Status:            p.Status.String(),
				ProductID:         p.ProductID,
				ProductName:       p.ProductName,
				ProductNameSource: p.ProductNameSource,
				IsSubscription:    p.IsSubscription,
				SubscriptionID:    p.SubscriptionID,
				PeriodEnd:         p.PeriodEnd,
				EventType:         p.EventType,
				CreatedAt:         p.CreatedAt,
				UpdatedAt:         p.UpdatedAt,
			})
		}
		resp := map[string]any{"payments": out}
		if page.NextCursor != "" {
			resp["next_cursor"] = page.NextCursor
		}
		responses.WriteSuccess(w, resp)
	}
}
