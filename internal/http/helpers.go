package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"entregas/internal/core"
	"entregas/internal/services"
)

// formatReais renders an amount with two decimals and a comma separator
// (e.g., "R$ 12,34"). Aggregation never rounds; this is the only place that does.
func formatReais(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	neg := d.IsNegative()
	s := strings.Replace(d.Abs().StringFixed(2), ".", ",", 1)
	if neg {
		return "-R$ " + s
	}
	return "R$ " + s
}

// displayFigures is the rounded, human-readable companion of a PeriodSummary.
type displayFigures struct {
	Earnings    string `json:"earnings"`
	FuelExpense string `json:"fuelExpense"`
	Net         string `json:"net"`
}

func displayOf(p services.PeriodSummary) displayFigures {
	return displayFigures{
		Earnings:    formatReais(p.Totals.Earnings),
		FuelExpense: formatReais(p.FuelExpense),
		Net:         formatReais(p.Net),
	}
}

type summaryResponse struct {
	services.Summary
	Display struct {
		Quinzena displayFigures `json:"quinzena"`
		Month    displayFigures `json:"month"`
	} `json:"display"`
}

func newSummaryResponse(s services.Summary) summaryResponse {
	resp := summaryResponse{Summary: s}
	resp.Display.Quinzena = displayOf(s.Quinzena)
	resp.Display.Month = displayOf(s.Month)
	return resp
}

// statusFor maps domain errors to HTTP status codes. Anything unknown is a
// store failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidDate),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidQuinzena),
		errors.Is(err, core.ErrInvalidMonthKey),
		errors.Is(err, core.ErrInvalidDay),
		errors.Is(err, core.ErrNegativeCount),
		errors.Is(err, core.ErrMalformedRecord),
		errors.Is(err, services.ErrInvalidSnapshot):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorFor builds the response for err. Internal failures are not echoed to
// the client.
func errorFor(err error) *JSONResponseBuilder {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		return InternalServerError("internal error")
	}
	return ErrorResponse(status, err.Error())
}
