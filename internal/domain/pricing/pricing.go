// Package pricing computes order totals. All monetary math is fixed-point
// decimal rounded half-up to two places; the invariant
// total = subtotal + tax + shipping - discount holds for every quote.
package pricing

import "github.com/shopspring/decimal"

const scale = 2

// Rules holds the pricing inputs applied to every order. Tax and shipping are
// deliberately dumb rules; anything smarter arrives as external input.
type Rules struct {
	TaxRate               decimal.Decimal
	ShippingFlatRate      decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

// Quote is the monetary breakdown of an order.
type Quote struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Quote prices an order from its line subtotals and an externally supplied
// discount.
func (r Rules) Quote(lineSubtotals []decimal.Decimal, discount decimal.Decimal) Quote {
	subtotal := decimal.Zero
	for _, s := range lineSubtotals {
		subtotal = subtotal.Add(s)
	}
	subtotal = subtotal.Round(scale)

	tax := subtotal.Mul(r.TaxRate).Round(scale)

	shipping := r.ShippingFlatRate
	if r.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(r.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	shipping = shipping.Round(scale)

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	discount = discount.Round(scale)

	return Quote{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal.Add(tax).Add(shipping).Sub(discount),
	}
}

// LineSubtotal prices a single line from its unit-price snapshot.
func LineSubtotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(scale)
}
