package domain

// ShippingPolicy - плоское правило доставки: бесплатно от порога, иначе фиксированный тариф.
type ShippingPolicy struct {
	FreeThresholdMinor int64
	FlatFeeMinor       int64
}

// DefaultShippingPolicy: бесплатно от 999, иначе 99 (в основных единицах).
func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{
		FreeThresholdMinor: 999 * MinorUnitsPerMajor,
		FlatFeeMinor:       99 * MinorUnitsPerMajor,
	}
}

// Quote возвращает стоимость доставки для подытога.
func (p ShippingPolicy) Quote(subtotalMinor int64) int64 {
	if subtotalMinor >= p.FreeThresholdMinor {
		return 0
	}
	return p.FlatFeeMinor
}

// Totals - денежные поля заказа.
type Totals struct {
	SubtotalMinor int64
	ShippingMinor int64
	TaxMinor      int64
	DiscountMinor int64
	TotalMinor    int64
}

// CalculateTotals считает подытог по снимку позиций и применяет правило доставки.
// Налог и скидка при оформлении не начисляются.
func CalculateTotals(items []OrderItem, policy ShippingPolicy) Totals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotalMinor()
	}
	shipping := policy.Quote(subtotal)
	return Totals{
		SubtotalMinor: subtotal,
		ShippingMinor: shipping,
		TotalMinor:    subtotal + shipping,
	}
}

// Apply переносит суммы в заказ.
func (t Totals) Apply(o *Order) {
	o.SubtotalMinor = t.SubtotalMinor
	o.ShippingMinor = t.ShippingMinor
	o.TaxMinor = t.TaxMinor
	o.DiscountMinor = t.DiscountMinor
	o.TotalMinor = t.TotalMinor
}
