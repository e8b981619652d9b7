package enums

import (
	"fmt"
	"strings"
)

// Provider identifies the billing provider that produced a payment.
type Provider string

const (
	ProviderStripe       Provider = "stripe"
	ProviderPolar        Provider = "polar"
	ProviderLemonSqueezy Provider = "lemonsqueezy"
)

var validProviders = []Provider{
	ProviderStripe,
	ProviderPolar,
	ProviderLemonSqueezy,
}

// String implements fmt.Stringer.
func (p Provider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known Provider.
func (p Provider) IsValid() bool {
	for _, candidate := range validProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// Providers returns every supported provider in a stable order.
func Providers() []Provider {
	out := make([]Provider, len(validProviders))
	copy(out, validProviders)
	return out
}

// ParseProvider converts raw input into a Provider. Matching ignores case and
// surrounding whitespace.
func ParseProvider(value string) (Provider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validProviders {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider %q", value)
}
