package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a normalized payment record.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusCanceled PaymentStatus = "canceled"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
	PaymentStatusCanceled,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further provider event can move the status.
func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentStatusRefunded || p == PaymentStatusCanceled
}

// CanTransitionTo reports whether a record in status p may be moved to next.
// Replaying the current status is always allowed.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if p == next {
		return true
	}
	switch p {
	case PaymentStatusPending:
		return next.IsValid()
	case PaymentStatusPaid:
		return next == PaymentStatusRefunded || next == PaymentStatusCanceled
	case PaymentStatusFailed:
		// a failed subscription can still end or be refunded
		return next == PaymentStatusPaid || next == PaymentStatusPending ||
			next == PaymentStatusCanceled || next == PaymentStatusRefunded
	default:
		return false
	}
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
