package builder

import (
	"sync"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// DefaultRickMortyRate is the built-in exchange rate: 1 RICK = 2 MORTY.
// It only illustrates the swap conservation check; real deployments need a
// price source.
const DefaultRickMortyRate = 2.0

type pair struct {
	base, quote contracts.Currency
}

// RateTable holds exchange rates between currencies. A rate set for
// base->quote also answers quote->base as its inverse.
type RateTable struct {
	mu    sync.RWMutex
	rates map[pair]float64
}

// NewRateTable returns an empty table.
func NewRateTable() *RateTable {
	return &RateTable{rates: make(map[pair]float64)}
}

// DefaultRates returns a table holding DefaultRickMortyRate.
func DefaultRates() *RateTable {
	t := NewRateTable()
	_ = t.Set(contracts.CurrencyRick, contracts.CurrencyMorty, DefaultRickMortyRate)
	return t
}

// Set records that one unit of base is worth rate units of quote.
func (t *RateTable) Set(base, quote contracts.Currency, rate float64) error {
	if !base.Valid() || !quote.Valid() {
		return contracts.Errorf(contracts.KindInvalidArgument, "unknown currency pair %s/%s", base, quote)
	}
	if base == quote {
		return contracts.Errorf(contracts.KindInvalidArgument, "rate needs two currencies, got %s twice", base)
	}
	if !(rate > 0) {
		return contracts.Errorf(contracts.KindInvalidArgument, "rate %s/%s must be positive", base, quote)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rates, pair{quote, base})
	t.rates[pair{base, quote}] = rate
	return nil
}

// Rate returns how many units of quote one unit of base buys.
func (t *RateTable) Rate(base, quote contracts.Currency) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.rates[pair{base, quote}]; ok {
		return r, nil
	}
	if r, ok := t.rates[pair{quote, base}]; ok {
		return 1 / r, nil
	}
	return 0, contracts.Errorf(contracts.KindInvalidArgument, "no exchange rate for %s/%s", base, quote)
}
