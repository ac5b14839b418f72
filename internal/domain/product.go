package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxItemQuantity - предел единиц одного товара в заказе, суммарно по всем строкам.
const MaxItemQuantity int32 = 10_000

// Product - товар каталога. Checkout только читает его при оформлении
// и списывает остаток при сохранении заказа.
type Product struct {
	ID            string
	Name          string
	PriceMinor    int64
	Currency      string
	StockQuantity int32
	Active        bool
	Image         string
	UpdatedAt     time.Time
}

// AddQuantity прибавляет qty к уже набранному количеству товара productID.
// Сумма считается в int64, поэтому повторяющиеся строки не переполняют int32.
func AddQuantity(productID string, total, qty int32) (int32, error) {
	if qty <= 0 {
		return 0, ErrItemQtyInvalid
	}
	sum := int64(total) + int64(qty)
	if sum > int64(MaxItemQuantity) {
		return 0, fmt.Errorf("%w: product %s quantity %d exceeds %d", ErrItemQtyInvalid, productID, sum, MaxItemQuantity)
	}
	return int32(sum), nil
}

// SumQuantities суммирует количество по товарам позиций заказа.
func SumQuantities(items []OrderItem) (map[string]int32, error) {
	need := make(map[string]int32, len(items))
	for _, item := range items {
		total, err := AddQuantity(item.ProductID, need[item.ProductID], item.Quantity)
		if err != nil {
			return nil, err
		}
		need[item.ProductID] = total
	}
	return need, nil
}

// CheckAvailable возвращает *ProductUnavailableError, если qty единиц продать нельзя.
func (p Product) CheckAvailable(qty int32) error {
	if !p.Active {
		return &ProductUnavailableError{ProductID: p.ID, Name: p.Name, Requested: qty, Available: p.StockQuantity, Reason: ErrProductInactive}
	}
	if p.StockQuantity < qty {
		return &ProductUnavailableError{ProductID: p.ID, Name: p.Name, Requested: qty, Available: p.StockQuantity, Reason: ErrInsufficientStock}
	}
	return nil
}

// Snapshot фиксирует цену и название товара в позиции заказа.
func (p Product) Snapshot(qty int32) OrderItem {
	return OrderItem{
		ProductID:  p.ID,
		Name:       p.Name,
		PriceMinor: p.PriceMinor,
		Quantity:   qty,
		Image:      p.Image,
	}
}

// Validate проверяет поля товара перед сохранением в каталог.
func (p *Product) Validate() []error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if p.StockQuantity < 0 {
		errs = append(errs, ErrStockNegative)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	return errs
}
