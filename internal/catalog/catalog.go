// Package catalog загружает каталог товаров из JSON-файла с десятичными ценами.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var minorFactor = decimal.NewFromInt(domain.MinorUnitsPerMajor)

// Entry - товар в файле каталога. Цена в основных единицах: "1499.00".
type Entry struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Stock    int32           `json:"stock"`
	Active   *bool           `json:"active,omitempty"`
	Image    string          `json:"image,omitempty"`
}

// Upserter сохраняет товар; реализуется inventory.Service.
type Upserter interface {
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
}

// Decode читает массив Entry. Пустая валюта заменяется defaultCurrency.
func Decode(r io.Reader, defaultCurrency string) ([]domain.Product, error) {
	var entries []Entry
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	products := make([]domain.Product, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		product, err := entry.toProduct(defaultCurrency)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if _, dup := seen[product.ID]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate product id %q", i, product.ID)
		}
		seen[product.ID] = struct{}{}
		products = append(products, product)
	}
	return products, nil
}

// LoadFile - Decode для файла на диске.
func LoadFile(path, defaultCurrency string) ([]domain.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Decode(f, defaultCurrency)
}

// Seed сохраняет товары по одному и возвращает число записанных.
func Seed(ctx context.Context, store Upserter, products []domain.Product) (int, error) {
	written := 0
	for _, product := range products {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if _, err := store.Upsert(ctx, product); err != nil {
			return written, fmt.Errorf("seed product %s: %w", product.ID, err)
		}
		written++
	}
	return written, nil
}

func (e Entry) toProduct(defaultCurrency string) (domain.Product, error) {
	minor := e.Price.Mul(minorFactor)
	if !minor.Equal(minor.Truncate(0)) {
		return domain.Product{}, fmt.Errorf("price %s has more than two decimal places", e.Price)
	}
	if minor.IsNegative() {
		return domain.Product{}, domain.ErrAmountNegative
	}

	currency := strings.ToUpper(strings.TrimSpace(e.Currency))
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(defaultCurrency))
	}
	active := true
	if e.Active != nil {
		active = *e.Active
	}

	product := domain.Product{
		ID:            strings.TrimSpace(e.ID),
		Name:          strings.TrimSpace(e.Name),
		PriceMinor:    minor.IntPart(),
		Currency:      currency,
		StockQuantity: e.Stock,
		Active:        active,
		Image:         strings.TrimSpace(e.Image),
	}
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}
	return product, nil
}
