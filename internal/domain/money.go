package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerMajor - коэффициент перевода основной единицы валюты в минимальную.
const MinorUnitsPerMajor = 100

var minorFactor = decimal.NewFromInt(MinorUnitsPerMajor)

// ParseMajor переводит строку в основных единицах ("999", "12.50") в минимальные.
// Дробная часть длиннее двух знаков считается ошибкой, округления нет.
func ParseMajor(value string) (int64, error) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	minor := amount.Mul(minorFactor)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than two decimal places", value)
	}
	if minor.IsNegative() {
		return 0, fmt.Errorf("amount %q: %w", value, ErrAmountNegative)
	}
	return minor.IntPart(), nil
}

// MustMajor - ParseMajor для констант в коде и тестах.
func MustMajor(value string) int64 {
	minor, err := ParseMajor(value)
	if err != nil {
		panic(err)
	}
	return minor
}

// FormatMinor печатает сумму в основных единицах с двумя знаками.
func FormatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
