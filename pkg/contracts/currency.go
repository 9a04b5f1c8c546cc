package contracts

import (
	"fmt"
	"strings"
)

// Currency is the closed set of token kinds the ledger understands.
type Currency string

const (
	CurrencyRick  Currency = "RICK"
	CurrencyMorty Currency = "MORTY"
)

// AllCurrencies lists every known currency in declaration order.
func AllCurrencies() []Currency {
	return []Currency{CurrencyRick, CurrencyMorty}
}

// Valid reports whether c is a known currency.
func (c Currency) Valid() bool {
	for _, known := range AllCurrencies() {
		if c == known {
			return true
		}
	}
	return false
}

func (c Currency) String() string {
	return string(c)
}

// ParseCurrency parses a case-insensitive currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return c, nil
}
