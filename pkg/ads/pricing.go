package ads

import "context"

// PaymentDetails is the computed price of a purchase requiring the gateway.
type PaymentDetails struct {
	AmountCents int64
	LineItems   []LineItem
}

// NewLineItem splits a gross price into net and 19% VAT,
// net = round(gross / 1.19).
func NewLineItem(description string, grossCents int64) LineItem {
	net := (grossCents*vatGrossFactor + vatNetDivisor/2) / vatNetDivisor
	return LineItem{
		Description: description,
		GrossCents:  grossCents,
		NetCents:    net,
		VATCents:    grossCents - net,
	}
}

// SumLineItems aggregates line items into document totals.
func SumLineItems(items []LineItem) DocumentTotals {
	totals := DocumentTotals{}
	for _, item := range items {
		totals.NetCents += item.NetCents
		totals.VATCents += item.VATCents
		totals.GrossCents += item.GrossCents
	}
	return totals
}

// ComputePaymentDetails prices the purchase: the pack price when a concrete
// pack was chosen plus the configured featured surcharge when featured was
// requested as a paid add-on.
func (service *Service) ComputePaymentDetails(ctx context.Context, choices PurchaseChoices) (PaymentDetails, error) {
	details := PaymentDetails{}
	if packID, ok := choices.PackID(); ok {
		pack, err := service.store.GetPack(ctx, packID)
		if err != nil {
			return PaymentDetails{}, err
		}
		details.LineItems = append(details.LineItems, NewLineItem("Ad pack "+pack.Name, pack.PriceCents))
		details.AmountCents += pack.PriceCents
	}
	if choices.Featured == ChoicePaidCredit {
		details.LineItems = append(details.LineItems, NewLineItem("Featured ad", service.config.FeaturedPriceCents))
		details.AmountCents += service.config.FeaturedPriceCents
	}
	return details, nil
}
