package core

import (
	"encoding/json"
	"fmt"
	"math"
)

// RateTable supplies the earnings of one delivery for a category and tier.
type RateTable interface {
	Rate(c Category, t Tier) float64
}

// TierRates are the per-delivery earnings of one category.
type TierRates struct {
	Normal  float64 `json:"normal"`
	Express float64 `json:"express"`
}

// StaticRates is a fixed rate table. Missing categories earn nothing.
type StaticRates map[Category]TierRates

func (r StaticRates) Rate(c Category, t Tier) float64 {
	tr, ok := r[c]
	if !ok {
		return 0
	}
	if t == Express {
		return tr.Express
	}
	return tr.Normal
}

// Validate rejects unknown categories and non-finite or negative rates.
func (r StaticRates) Validate() error {
	for c, tr := range r {
		if !c.Valid() {
			return fmt.Errorf("unknown category %q", c)
		}
		for _, v := range []float64{tr.Normal, tr.Express} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("invalid rate %v for %s", v, c)
			}
		}
	}
	return nil
}

// ParseRates decodes and validates a JSON rate table.
func ParseRates(b []byte) (StaticRates, error) {
	var r StaticRates
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// DefaultRates is used when no rate file is configured.
func DefaultRates() StaticRates {
	return StaticRates{
		Flash:     {Normal: 3.50, Express: 5.00},
		Interlog:  {Normal: 3.00, Express: 4.50},
		Ecommerce: {Normal: 2.80, Express: 4.00},
		Loggi:     {Normal: 3.20, Express: 4.80},
	}
}
