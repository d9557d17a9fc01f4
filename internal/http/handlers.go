package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"entregas/internal/core"
	"entregas/internal/log"
	"entregas/internal/services"
)

// handleSummary serves the dashboard figures for ?date=YYYY-MM-DD, or today
// when the parameter is absent.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	date := s.tracker.Today()
	if v := r.URL.Query().Get("date"); v != "" {
		var err error
		if date, err = ParseDate(v); err != nil {
			errorFor(err).Write(w)
			return
		}
	}
	key := date.Format(time.DateOnly)

	if resp, ok := s.summaries.Get(key); ok {
		log.FromContext(ctx).DebugContext(ctx, "Summary cache hit", "date", key)
		NewJSONResponse().JSON(resp).Write(w)
		return
	}

	gen := s.cacheGeneration()
	summary, err := s.tracker.Summary(ctx, date)
	if err != nil {
		s.fail(ctx, w, log.OpSummary, err)
		return
	}
	resp := newSummaryResponse(summary)
	if !s.storeSummary(gen, key, resp) {
		log.FromContext(ctx).DebugContext(ctx, "Summary not cached, data changed while loading", "date", key)
	}
	NewJSONResponse().JSON(resp).Write(w)
}

type entryResponse struct {
	Date  string          `json:"date"`
	Entry core.DailyEntry `json:"entry"`
	Total int             `json:"total"`
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	date, err := ParseDate(r.PathValue("date"))
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	e, ok, err := s.tracker.Entry(r.Context(), date)
	if err != nil {
		s.fail(r.Context(), w, log.OpRead, err)
		return
	}
	if !ok {
		NotFoundError("no entry for " + date.Format(time.DateOnly)).Write(w)
		return
	}
	NewJSONResponse().JSON(entryResponse{Date: date.Format(time.DateOnly), Entry: e, Total: e.Total()}).Write(w)
}

func (s *Server) handlePutEntry(w http.ResponseWriter, r *http.Request) {
	date, err := ParseDate(r.PathValue("date"))
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	var e core.DailyEntry
	if err := DecodeJSONBody(r, &e); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.tracker.SaveEntry(r.Context(), date, e); err != nil {
		s.fail(r.Context(), w, log.OpSave, err)
		return
	}
	NewJSONResponse().JSON(entryResponse{Date: date.Format(time.DateOnly), Entry: e, Total: e.Total()}).Write(w)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	date, err := ParseDate(r.PathValue("date"))
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	removed, err := s.tracker.DeleteEntry(r.Context(), date)
	if err != nil {
		s.fail(r.Context(), w, log.OpDelete, err)
		return
	}
	if !removed {
		NotFoundError("no entry for " + date.Format(time.DateOnly)).Write(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type seriesResponse struct {
	MonthKey string              `json:"monthKey"`
	Days     []services.DayPoint `json:"days"`
}

func (s *Server) handleMonthSeries(w http.ResponseWriter, r *http.Request) {
	monthKey, err := ParseMonthKey(r.PathValue("month"))
	if err != nil {
		errorFor(err).Write(w)
		return
	}
	points, err := s.tracker.MonthSeries(r.Context(), monthKey)
	if err != nil {
		s.fail(r.Context(), w, log.OpRead, err)
		return
	}
	NewJSONResponse().JSON(seriesResponse{MonthKey: monthKey, Days: points}).Write(w)
}

type monthExpensesResponse struct {
	MonthKey string  `json:"monthKey"`
	First    float64 `json:"firstQuinzena"`
	Second   float64 `json:"secondQuinzena"`
	Monthly  float64 `json:"monthly"`
	Display  struct {
		First   string `json:"firstQuinzena"`
		Second  string `json:"secondQuinzena"`
		Monthly string `json:"monthly"`
	} `json:"display"`
}

func (s *Server) handleMonthExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	monthKey, err := ParseMonthKey(r.PathValue("month"))
	if err != nil {
		errorFor(err).Write(w)
		return
	}

	resp := monthExpensesResponse{MonthKey: monthKey}
	if resp.First, err = s.tracker.QuinzenaExpense(ctx, monthKey, core.FirstQuinzena); err != nil {
		s.fail(ctx, w, log.OpExpense, err)
		return
	}
	if resp.Second, err = s.tracker.QuinzenaExpense(ctx, monthKey, core.SecondQuinzena); err != nil {
		s.fail(ctx, w, log.OpExpense, err)
		return
	}
	if resp.Monthly, err = s.tracker.MonthlyExpense(ctx, monthKey); err != nil {
		s.fail(ctx, w, log.OpExpense, err)
		return
	}
	resp.Display.First = formatReais(resp.First)
	resp.Display.Second = formatReais(resp.Second)
	resp.Display.Monthly = formatReais(resp.Monthly)
	NewJSONResponse().JSON(resp).Write(w)
}

type addExpenseRequest struct {
	Date   string   `json:"date"`
	Amount *float64 `json:"amount"`
}

type addExpenseResponse struct {
	MonthKey      string        `json:"monthKey"`
	Quinzena      core.Quinzena `json:"quinzena"`
	QuinzenaTotal float64       `json:"quinzenaTotal"`
	Display       string        `json:"display"`
}

// handleAddExpense accumulates an amount into the quinzena of the given date.
func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req addExpenseRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if req.Amount == nil {
		UnprocessableEntityError("amount is required").Write(w)
		return
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		errorFor(err).Write(w)
		return
	}

	period := core.PeriodOf(date)
	total, err := s.tracker.AddExpense(r.Context(), period.MonthKey, period.Quinzena, *req.Amount)
	if err != nil {
		s.fail(r.Context(), w, log.OpExpense, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).JSON(addExpenseResponse{
		MonthKey:      period.MonthKey,
		Quinzena:      period.Quinzena,
		QuinzenaTotal: total,
		Display:       formatReais(total),
	}).Write(w)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.tracker.Export(r.Context())
	if err != nil {
		s.fail(r.Context(), w, log.OpExport, err)
		return
	}
	filename := "entregas-backup-" + s.tracker.Today().Format(time.DateOnly) + ".json"
	NewJSONResponse().
		Header("Content-Disposition", `attachment; filename="`+filename+`"`).
		JSON(snap).
		Write(w)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var snap services.Snapshot
	if err := DecodeJSONBody(r, &snap); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.tracker.Import(r.Context(), snap); err != nil {
		s.fail(r.Context(), w, log.OpImport, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail logs err and writes the matching error response. Validation errors
// are logged at warn, everything else at error.
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	logger := log.FromContext(ctx)
	fields := log.NewFields().WithOperation(op).WithError(err).ToSlice()
	if statusFor(err) == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "Request failed", fields...)
	} else {
		logger.WarnContext(ctx, "Request rejected", fields...)
	}
	errorFor(err).Write(w)
}
