package normalize

import "strings"

// Product name sources, in fallback order. The value is recorded on the
// payment row and logged so operators can see which tier supplied the name.
const (
	SourceProductName   = "product.name"
	SourceVariantName   = "variant.name"
	SourceWebhookName   = "webhookData.product_name"
	SourceDescription   = "webhookData.description"
	SourceFirstItemName = "webhookData.items[0].name"
	SourceFallback      = "fallback"

	UnknownProductName = "Unknown Product"
)

// ProductCandidates carries every place a provider payload may name the product.
type ProductCandidates struct {
	ProductName   string
	VariantName   string
	WebhookName   string
	Description   string
	FirstItemName string
}

// ExtractProductName walks the fallback chain and returns the first non-blank
// candidate together with the source it came from. It never returns an empty
// name.
func ExtractProductName(c ProductCandidates) (string, string) {
	tiers := []struct {
		value  string
		source string
	}{
		{c.ProductName, SourceProductName},
		{c.VariantName, SourceVariantName},
		{c.WebhookName, SourceWebhookName},
		{c.Description, SourceDescription},
		{c.FirstItemName, SourceFirstItemName},
	}
	for _, tier := range tiers {
		if name := strings.TrimSpace(tier.value); name != "" {
			return name, tier.source
		}
	}
	return UnknownProductName, SourceFallback
}
