package models

import "time"

type Asset struct {
	ID     int64  `json:"id"`
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
}

// PricePoint is one daily close.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Fundamental is the latest balance sheet snapshot for an asset.
type Fundamental struct {
	Ticker       string    `json:"ticker"`
	Date         time.Time `json:"date"`
	ROE          float64   `json:"roe"`
	FCF          float64   `json:"fcf"`
	DebtToEBITDA float64   `json:"debt_to_ebitda"`
}

// MacroSnapshot is the shared macro context of a run.
type MacroSnapshot struct {
	Date         time.Time `json:"date"`
	Inflation    float64   `json:"inflation"`
	InterestRate float64   `json:"interest_rate"`
	GDPGrowth    float64   `json:"gdp_growth"`
	Unemployment float64   `json:"unemployment"`
}

// Closes is a dated close series, oldest first.
type Closes []PricePoint

// Values returns the bare close prices in order.
func (c Closes) Values() []float64 {
	out := make([]float64, len(c))
	for i, p := range c {
		out[i] = p.Close
	}
	return out
}

// Last returns the most recent close, or zero for an empty series.
func (c Closes) Last() float64 {
	if len(c) == 0 {
		return 0
	}
	return c[len(c)-1].Close
}

// Wire converts the series to the agents' {date, price} points.
func (c Closes) Wire() []WirePrice {
	out := make([]WirePrice, len(c))
	for i, p := range c {
		out[i] = WirePrice{Date: p.Date, Price: p.Close}
	}
	return out
}
