package core

type (
	Tally struct {
		Count    int     `json:"count"`
		Earnings float64 `json:"earnings"`
	}

	// DetailedTotal splits a total by tier.
	DetailedTotal struct {
		Normal  Tally `json:"normal"`
		Express Tally `json:"express"`
		Total   Tally `json:"total"`
	}

	// Breakdown holds one DetailedTotal per category plus their sum.
	Breakdown struct {
		Flash      DetailedTotal `json:"flash"`
		Interlog   DetailedTotal `json:"interlog"`
		Ecommerce  DetailedTotal `json:"ecommerce"`
		Loggi      DetailedTotal `json:"loggi"`
		GrandTotal DetailedTotal `json:"grandTotal"`
	}

	// PeriodTotals is the reduced form shown in dashboard summaries.
	PeriodTotals struct {
		Deliveries int     `json:"deliveries"`
		Earnings   float64 `json:"earnings"`
	}
)

// Add sums two totals.
func (p PeriodTotals) Add(o PeriodTotals) PeriodTotals {
	return PeriodTotals{Deliveries: p.Deliveries + o.Deliveries, Earnings: p.Earnings + o.Earnings}
}

// For returns the detailed total of a category.
func (b Breakdown) For(c Category) DetailedTotal {
	if p := b.slot(c); p != nil {
		return *p
	}
	return DetailedTotal{}
}

func (b *Breakdown) slot(c Category) *DetailedTotal {
	switch c {
	case Flash:
		return &b.Flash
	case Interlog:
		return &b.Interlog
	case Ecommerce:
		return &b.Ecommerce
	case Loggi:
		return &b.Loggi
	}
	return nil
}

// Totals reduces the breakdown to deliveries and earnings.
func (b Breakdown) Totals() PeriodTotals {
	return PeriodTotals{Deliveries: b.GrandTotal.Total.Count, Earnings: b.GrandTotal.Total.Earnings}
}

// Aggregate sums normal and express counts per category across entries, then
// prices the summed counts with the rate table. A nil table earns nothing.
// Empty input yields a zero breakdown.
func Aggregate(entries []DailyEntry, rates RateTable) Breakdown {
	var b Breakdown
	for _, e := range entries {
		for _, c := range Categories {
			d := e.Count(c)
			dt := b.slot(c)
			dt.Normal.Count += d.Normal
			dt.Express.Count += d.Express
		}
	}
	for _, c := range Categories {
		dt := b.slot(c)
		if rates != nil {
			dt.Normal.Earnings = float64(dt.Normal.Count) * rates.Rate(c, Normal)
			dt.Express.Earnings = float64(dt.Express.Count) * rates.Rate(c, Express)
		}
		dt.Total = Tally{
			Count:    dt.Normal.Count + dt.Express.Count,
			Earnings: dt.Normal.Earnings + dt.Express.Earnings,
		}

		g := &b.GrandTotal
		g.Normal.Count += dt.Normal.Count
		g.Normal.Earnings += dt.Normal.Earnings
		g.Express.Count += dt.Express.Count
		g.Express.Earnings += dt.Express.Earnings
		g.Total.Count += dt.Total.Count
		g.Total.Earnings += dt.Total.Earnings
	}
	return b
}

// SumFlat adds up flat day records.
func SumFlat(entries []FlatEntry) PeriodTotals {
	var t PeriodTotals
	for _, e := range entries {
		t.Deliveries += e.Deliveries
		t.Earnings += e.Earnings
	}
	return t
}
