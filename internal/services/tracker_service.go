package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"entregas/internal/core"
	"entregas/internal/kv"
	"entregas/internal/log"
)

var ErrInvalidSnapshot = errors.New("invalid snapshot")

type (
	// PeriodSummary is the dashboard view of a quinzena or a month.
	PeriodSummary struct {
		Breakdown   core.Breakdown    `json:"breakdown"`
		Totals      core.PeriodTotals `json:"totals"`
		FuelExpense float64           `json:"fuelExpense"`
		Net         float64           `json:"net"`
		Days        int               `json:"days"`
	}

	// SkippedDay is a stored record that could not be normalized. Day is 0
	// when the stored key itself is not a day of month.
	SkippedDay struct {
		MonthKey string `json:"monthKey"`
		Day      int    `json:"day"`
		Reason   string `json:"reason"`
	}

	Summary struct {
		Date     string        `json:"date"`
		Period   core.Period   `json:"period"`
		Quinzena PeriodSummary `json:"quinzena"`
		Month    PeriodSummary `json:"month"`
		Skipped  []SkippedDay  `json:"skipped,omitempty"`
	}

	// DayPoint is one bar of the month chart.
	DayPoint struct {
		Day        int           `json:"day"`
		Quinzena   core.Quinzena `json:"quinzena"`
		Kind       string        `json:"kind"`
		Deliveries int           `json:"deliveries"`
		Earnings   float64       `json:"earnings"`
	}

	// Snapshot is the backup document; its layout matches the memory seed file.
	Snapshot struct {
		DeliveryData core.AllData     `json:"deliveryData"`
		FuelExpenses core.ExpenseData `json:"fuelExpenses"`
	}
)

// TrackerService reads and writes the two persisted documents and turns them
// into dashboard figures. Writes are serialized so read-modify-write cycles
// never interleave.
type TrackerService struct {
	store  kv.Store
	rates  core.RateTable
	clock  core.Clock
	logger *log.Logger

	mu       sync.Mutex
	onChange []func()
}

func NewTrackerService(store kv.Store, rates core.RateTable, clock core.Clock, logger *log.Logger) *TrackerService {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &TrackerService{
		store:  store,
		rates:  rates,
		clock:  clock,
		logger: logger.WithComponent(log.ComponentTracker),
	}
}

// OnChange registers a callback run after every successful write.
func (s *TrackerService) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *TrackerService) notify() {
	for _, fn := range s.onChange {
		fn()
	}
}

// Entry returns the normalized record of a date.
func (s *TrackerService) Entry(ctx context.Context, date time.Time) (core.DailyEntry, bool, error) {
	data, _, err := s.loadData(ctx)
	if err != nil {
		return core.DailyEntry{}, false, err
	}
	raw, ok := data.Get(date)
	if !ok {
		return core.DailyEntry{}, false, nil
	}
	e, err := core.Normalize(raw)
	if err != nil {
		return core.DailyEntry{}, true, fmt.Errorf("day %s: %w", date.Format(time.DateOnly), err)
	}
	return e, true, nil
}

// SaveEntry stores the day in the current schema, replacing what was there.
func (s *TrackerService) SaveEntry(ctx context.Context, date time.Time, e core.DailyEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, _, err := s.loadData(ctx)
	if err != nil {
		return err
	}
	data.Put(date, e)
	if err := s.saveData(ctx, data); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Entry saved", log.NewFields().
		WithOperation(log.OpSave).
		WithDay(core.MonthKey(date), date.Day()).
		ToSlice()...)
	s.notify()
	return nil
}

// DeleteEntry removes the day's record and reports whether one existed. The
// month key disappears with its last day.
func (s *TrackerService) DeleteEntry(ctx context.Context, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, _, err := s.loadData(ctx)
	if err != nil {
		return false, err
	}
	if !data.Remove(date) {
		return false, nil
	}
	if err := s.saveData(ctx, data); err != nil {
		return false, err
	}

	s.logger.InfoContext(ctx, "Entry deleted", log.NewFields().
		WithOperation(log.OpDelete).
		WithDay(core.MonthKey(date), date.Day()).
		ToSlice()...)
	s.notify()
	return true, nil
}

// Summary computes quinzena and month figures for the period containing date.
func (s *TrackerService) Summary(ctx context.Context, date time.Time) (Summary, error) {
	var (
		data     core.AllData
		invalid  []core.InvalidDayKey
		expenses core.ExpenseData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, invalid, err = s.loadData(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		expenses, err = s.loadExpenses(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	period := core.PeriodOf(date)
	month := data[period.MonthKey]
	quinzenaDays, monthDays := s.collect(ctx, period.MonthKey, month, period.Quinzena)
	for _, k := range invalid {
		if k.MonthKey == period.MonthKey {
			monthDays.skipped = append(monthDays.skipped, SkippedDay{MonthKey: k.MonthKey, Reason: k.String()})
		}
	}

	summary := Summary{
		Date:     date.Format(time.DateOnly),
		Period:   period,
		Quinzena: quinzenaDays.summarize(s.rates, expenses.Quinzena(period.MonthKey, period.Quinzena)),
		Month:    monthDays.summarize(s.rates, expenses.Monthly(period.MonthKey)),
		Skipped:  monthDays.skipped,
	}
	if n := len(summary.Skipped); n > 0 {
		s.logger.WarnContext(ctx, "Summary computed with skipped days", append(log.NewFields().
			WithOperation(log.OpSummary).
			WithPeriod(period.MonthKey, int(period.Quinzena)).
			ToSlice(), log.FieldSkipped, n)...)
	}
	return summary, nil
}

// CurrentSummary is Summary for the clock's current date.
func (s *TrackerService) CurrentSummary(ctx context.Context) (Summary, error) {
	return s.Summary(ctx, s.clock.Now())
}

// Today returns the clock's current date.
func (s *TrackerService) Today() time.Time {
	return s.clock.Now()
}

// MonthSeries returns one point per stored day of the month, in day order.
// Malformed days are left out.
func (s *TrackerService) MonthSeries(ctx context.Context, monthKey string) ([]DayPoint, error) {
	if _, _, err := core.ParseMonthKey(monthKey); err != nil {
		return nil, err
	}
	data, _, err := s.loadData(ctx)
	if err != nil {
		return nil, err
	}
	month := data[monthKey]
	points := make([]DayPoint, 0, len(month))
	for _, day := range month.Days() {
		raw := month[day]
		q := core.SecondQuinzena
		if core.FirstQuinzena.Contains(day) {
			q = core.FirstQuinzena
		}
		p := DayPoint{Day: day, Quinzena: q, Kind: raw.Kind().String()}
		if flat, ok := raw.Flat(); ok {
			p.Deliveries, p.Earnings = flat.Deliveries, flat.Earnings
		} else if e, err := core.Normalize(raw); err == nil {
			t := core.Aggregate([]core.DailyEntry{e}, s.rates).Totals()
			p.Deliveries, p.Earnings = t.Deliveries, t.Earnings
		} else {
			s.warnSkipped(ctx, monthKey, day, err)
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// AddExpense accumulates a fuel expense into a quinzena and returns the new
// quinzena total.
func (s *TrackerService) AddExpense(ctx context.Context, monthKey string, q core.Quinzena, amount float64) (float64, error) {
	if err := core.ValidateExpense(monthKey, q, amount); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expenses, err := s.loadExpenses(ctx)
	if err != nil {
		return 0, err
	}
	if err := expenses.Add(monthKey, q, amount); err != nil {
		return 0, err
	}
	if err := s.saveJSON(ctx, kv.FuelExpensesKey, expenses); err != nil {
		return 0, err
	}

	total := expenses.Quinzena(monthKey, q)
	s.logger.InfoContext(ctx, "Fuel expense added", append(log.NewFields().
		WithOperation(log.OpExpense).
		WithPeriod(monthKey, int(q)).
		ToSlice(), log.FieldAmount, amount)...)
	s.notify()
	return total, nil
}

func (s *TrackerService) QuinzenaExpense(ctx context.Context, monthKey string, q core.Quinzena) (float64, error) {
	expenses, err := s.loadExpenses(ctx)
	if err != nil {
		return 0, err
	}
	return expenses.Quinzena(monthKey, q), nil
}

func (s *TrackerService) MonthlyExpense(ctx context.Context, monthKey string) (float64, error) {
	expenses, err := s.loadExpenses(ctx)
	if err != nil {
		return 0, err
	}
	return expenses.Monthly(monthKey), nil
}

// Export returns both documents with every record in its stored shape.
func (s *TrackerService) Export(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.DeliveryData, _, err = s.loadData(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.FuelExpenses, err = s.loadExpenses(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	s.logger.InfoContext(ctx, "Data exported", log.FieldOperation, log.OpExport, "months", len(snap.DeliveryData))
	return snap, nil
}

// Import replaces both documents. Records are stored as given; legacy ones
// are upgraded lazily on read like any other.
func (s *TrackerService) Import(ctx context.Context, snap Snapshot) error {
	if snap.DeliveryData == nil {
		snap.DeliveryData = core.AllData{}
	}
	if snap.FuelExpenses == nil {
		snap.FuelExpenses = core.ExpenseData{}
	}
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	snap.DeliveryData.Prune()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveData(ctx, snap.DeliveryData); err != nil {
		return err
	}
	if err := s.saveJSON(ctx, kv.FuelExpensesKey, snap.FuelExpenses); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Data imported", log.FieldOperation, log.OpImport, "months", len(snap.DeliveryData))
	s.notify()
	return nil
}

func validateSnapshot(snap Snapshot) error {
	for key, month := range snap.DeliveryData {
		if _, _, err := core.ParseMonthKey(key); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
		for day := range month {
			if day < 1 || day > 31 {
				return fmt.Errorf("%w: %s: %w %d", ErrInvalidSnapshot, key, core.ErrInvalidDay, day)
			}
		}
	}
	return nil
}

type collected struct {
	entries []core.DailyEntry
	flats   []core.FlatEntry
	skipped []SkippedDay
}

func (c collected) summarize(rates core.RateTable, expense float64) PeriodSummary {
	b := core.Aggregate(c.entries, rates)
	totals := b.Totals().Add(core.SumFlat(c.flats))
	return PeriodSummary{
		Breakdown:   b,
		Totals:      totals,
		FuelExpense: expense,
		Net:         totals.Earnings - expense,
		Days:        len(c.entries) + len(c.flats),
	}
}

// collect normalizes the month's days, splitting out those of quinzena q.
// Flat records are kept apart; malformed ones are skipped with a warning and
// reported on the month.
func (s *TrackerService) collect(ctx context.Context, monthKey string, month core.MonthData, q core.Quinzena) (half, whole collected) {
	for _, day := range month.Days() {
		raw := month[day]
		if flat, ok := raw.Flat(); ok {
			whole.flats = append(whole.flats, flat)
			if q.Contains(day) {
				half.flats = append(half.flats, flat)
			}
			continue
		}
		e, err := core.Normalize(raw)
		if err != nil {
			s.warnSkipped(ctx, monthKey, day, err)
			whole.skipped = append(whole.skipped, SkippedDay{MonthKey: monthKey, Day: day, Reason: err.Error()})
			continue
		}
		whole.entries = append(whole.entries, e)
		if q.Contains(day) {
			half.entries = append(half.entries, e)
		}
	}
	return half, whole
}

func (s *TrackerService) warnSkipped(ctx context.Context, monthKey string, day int, err error) {
	s.logger.WarnContext(ctx, "Skipping malformed record", log.NewFields().
		WithOperation(log.OpNormalize).
		WithDay(monthKey, day).
		WithError(err).
		ToSlice()...)
}

// loadData reads the delivery document. Unreadable keys are warned about and
// left out; the next write drops them.
func (s *TrackerService) loadData(ctx context.Context) (core.AllData, []core.InvalidDayKey, error) {
	b, ok, err := s.store.Get(ctx, kv.DeliveryDataKey)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", kv.DeliveryDataKey, err)
	}
	if !ok {
		return core.AllData{}, nil, nil
	}
	data, invalid, err := core.DecodeAllData(b)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", kv.DeliveryDataKey, err)
	}
	for _, k := range invalid {
		s.logger.WarnContext(ctx, "Ignoring unreadable day key",
			log.FieldOperation, log.OpNormalize,
			log.FieldMonthKey, k.MonthKey,
			log.FieldDay, k.Key)
	}
	return data, invalid, nil
}

func (s *TrackerService) loadExpenses(ctx context.Context) (core.ExpenseData, error) {
	expenses := core.ExpenseData{}
	if err := s.loadJSON(ctx, kv.FuelExpensesKey, &expenses); err != nil {
		return nil, err
	}
	if expenses == nil {
		expenses = core.ExpenseData{}
	}
	return expenses, nil
}

func (s *TrackerService) saveData(ctx context.Context, data core.AllData) error {
	return s.saveJSON(ctx, kv.DeliveryDataKey, data)
}

func (s *TrackerService) loadJSON(ctx context.Context, key string, v any) error {
	b, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *TrackerService) saveJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.store.Set(ctx, key, b); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
