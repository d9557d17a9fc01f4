package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"entregas/internal/core"
	"entregas/internal/kv"
	"entregas/internal/kv/memory"
	"entregas/internal/log"
	"entregas/internal/services"
)

func testRates() core.StaticRates {
	r := core.StaticRates{}
	for _, c := range core.Categories {
		r[c] = core.TierRates{Normal: 1, Express: 2}
	}
	return r
}

func newTestServer(t *testing.T, opts Options) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	return newTestServerWith(t, store, core.FixedClock{T: core.NewDate(2024, 3, 10)}, opts), store
}

func newTestServerWith(t *testing.T, store kv.Store, clock core.Clock, opts Options) *Server {
	t.Helper()
	logger := log.New(log.Config{Output: io.Discard})
	tracker := services.NewTrackerService(store, testRates(), clock, logger)
	opts.Logger = logger
	srv := NewServer(":0", tracker, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

// pausingStore holds one Get of a key after reading it, until released.
type pausingStore struct {
	*memory.Store

	mu      sync.Mutex
	key     string
	read    chan struct{}
	release chan struct{}
}

func (s *pausingStore) pauseNextGet(key string) (read <-chan struct{}, release chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	s.read = make(chan struct{})
	s.release = make(chan struct{})
	return s.read, s.release
}

func (s *pausingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok, err := s.Store.Get(ctx, key)

	s.mu.Lock()
	var read, release chan struct{}
	if key == s.key {
		read, release = s.read, s.release
		s.key = ""
	}
	s.mu.Unlock()

	if read != nil {
		close(read)
		<-release
	}
	return b, ok, err
}

// steppingClock returns its instants in order, then repeats the last one.
type steppingClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := do(t, srv, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	notReady, _ := newTestServer(t, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	if rr := do(t, notReady, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
}

func TestEntryLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/api/entries/2024-03-05", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing entry status=%d", rr.Code)
	}

	body := `{"flash":{"normal":2,"express":1},"loggi":{"normal":0,"express":3}}`
	rr = do(t, srv, http.MethodPut, "/api/entries/2024-03-05", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodGet, "/api/entries/2024-03-05", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}
	got := decode[entryResponse](t, rr)
	if got.Total != 6 || got.Entry.Loggi.Express != 3 {
		t.Errorf("entry = %+v", got)
	}

	if rr = do(t, srv, http.MethodDelete, "/api/entries/2024-03-05", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr = do(t, srv, http.MethodDelete, "/api/entries/2024-03-05", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
}

func TestEntryValidation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad date", http.MethodGet, "/api/entries/10-03-2024", "", http.StatusUnprocessableEntity},
		{"negative count", http.MethodPut, "/api/entries/2024-03-05", `{"flash":{"normal":-1,"express":0}}`, http.StatusUnprocessableEntity},
		{"unknown field", http.MethodPut, "/api/entries/2024-03-05", `{"rappi":{"normal":1}}`, http.StatusBadRequest},
		{"not json", http.MethodPut, "/api/entries/2024-03-05", `flash=1`, http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/api/entries/2024-03-05", `{}`, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, srv, tt.method, tt.path, tt.body); rr.Code != tt.want {
				t.Fatalf("status=%d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestSummaryAndCacheInvalidation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	do(t, srv, http.MethodPut, "/api/entries/2024-03-05", `{"flash":{"normal":2,"express":1}}`)

	rr := do(t, srv, http.MethodGet, "/api/summary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status=%d body=%s", rr.Code, rr.Body.String())
	}
	s := decode[summaryResponse](t, rr)
	if s.Date != "2024-03-10" || s.Quinzena.Totals.Deliveries != 3 || s.Quinzena.Totals.Earnings != 4 {
		t.Fatalf("summary = %+v", s.Summary)
	}
	if s.Display.Quinzena.Earnings != "R$ 4,00" {
		t.Errorf("display earnings = %q", s.Display.Quinzena.Earnings)
	}
	if srv.summaries.Size() != 1 {
		t.Fatalf("summary not cached, size=%d", srv.summaries.Size())
	}

	rr = do(t, srv, http.MethodPost, "/api/expenses", `{"date":"2024-03-08","amount":1.5}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expense status=%d body=%s", rr.Code, rr.Body.String())
	}
	if srv.summaries.Size() != 0 {
		t.Fatalf("write did not purge the summary cache")
	}

	s = decode[summaryResponse](t, do(t, srv, http.MethodGet, "/api/summary?date=2024-03-10", ""))
	if s.Quinzena.FuelExpense != 1.5 || s.Quinzena.Net != 2.5 {
		t.Errorf("quinzena after expense = %+v", s.Quinzena)
	}
	if s.Display.Quinzena.Net != "R$ 2,50" {
		t.Errorf("display net = %q", s.Display.Quinzena.Net)
	}

	s = decode[summaryResponse](t, do(t, srv, http.MethodGet, "/api/summary?date=2024-03-20", ""))
	if s.Period.Quinzena != core.SecondQuinzena || s.Quinzena.Totals.Deliveries != 0 || s.Month.Totals.Deliveries != 3 {
		t.Errorf("second quinzena summary = %+v", s.Summary)
	}

	if rr := do(t, srv, http.MethodGet, "/api/summary?date=2024-13-01", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad date status=%d", rr.Code)
	}
}

func TestSummaryLoadedDuringWriteIsNotCached(t *testing.T) {
	store := &pausingStore{Store: memory.New()}
	srv := newTestServerWith(t, store, core.FixedClock{T: core.NewDate(2024, 3, 10)}, Options{})

	read, release := store.pauseNextGet(kv.DeliveryDataKey)
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(t, srv, http.MethodGet, "/api/summary?date=2024-03-10", "")
	}()

	<-read
	if rr := do(t, srv, http.MethodPut, "/api/entries/2024-03-05", `{"flash":{"normal":3,"express":0}}`); rr.Code != http.StatusOK {
		t.Fatalf("put status=%d body=%s", rr.Code, rr.Body.String())
	}
	close(release)

	first := decode[summaryResponse](t, <-done)
	if first.Quinzena.Totals.Deliveries != 0 {
		t.Fatalf("summary read before the write = %+v", first.Quinzena.Totals)
	}
	if srv.summaries.Size() != 0 {
		t.Fatalf("summary loaded before the write was cached")
	}

	s := decode[summaryResponse](t, do(t, srv, http.MethodGet, "/api/summary?date=2024-03-10", ""))
	if s.Quinzena.Totals.Deliveries != 3 {
		t.Errorf("deliveries = %d, want 3", s.Quinzena.Totals.Deliveries)
	}
	if srv.summaries.Size() != 1 {
		t.Errorf("fresh summary not cached, size=%d", srv.summaries.Size())
	}
}

func TestSummaryWithoutDateReadsClockOnce(t *testing.T) {
	clock := &steppingClock{times: []time.Time{
		time.Date(2024, 3, 15, 23, 59, 59, 0, time.Local),
		time.Date(2024, 3, 16, 0, 0, 0, 0, time.Local),
	}}
	srv := newTestServerWith(t, memory.New(), clock, Options{})

	s := decode[summaryResponse](t, do(t, srv, http.MethodGet, "/api/summary", ""))
	if s.Date != "2024-03-15" || s.Period.Quinzena != core.FirstQuinzena {
		t.Fatalf("summary = %s quinzena %d, want 2024-03-15 first quinzena", s.Date, s.Period.Quinzena)
	}
	cached, ok := srv.summaries.Get("2024-03-15")
	if !ok || cached.Date != "2024-03-15" {
		t.Errorf("cache entry for 2024-03-15 = %+v, %v", cached.Date, ok)
	}
	if _, ok := srv.summaries.Get("2024-03-16"); ok {
		t.Errorf("summary cached under the next day's key")
	}
}

func TestMonthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	do(t, srv, http.MethodPut, "/api/entries/2024-03-16", `{"interlog":{"normal":4,"express":0}}`)
	do(t, srv, http.MethodPut, "/api/entries/2024-03-01", `{"flash":{"normal":1,"express":0}}`)
	do(t, srv, http.MethodPost, "/api/expenses", `{"date":"2024-03-01","amount":10}`)
	do(t, srv, http.MethodPost, "/api/expenses", `{"date":"2024-03-31","amount":5.25}`)

	rr := do(t, srv, http.MethodGet, "/api/months/2024-3/series", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("series status=%d", rr.Code)
	}
	series := decode[seriesResponse](t, rr)
	if len(series.Days) != 2 || series.Days[0].Day != 1 || series.Days[1].Earnings != 4 {
		t.Errorf("series = %+v", series)
	}

	rr = do(t, srv, http.MethodGet, "/api/months/2024-3/expenses", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expenses status=%d", rr.Code)
	}
	exp := decode[monthExpensesResponse](t, rr)
	if exp.First != 10 || exp.Second != 5.25 || exp.Monthly != 15.25 {
		t.Errorf("expenses = %+v", exp)
	}
	if exp.Display.Monthly != "R$ 15,25" {
		t.Errorf("display monthly = %q", exp.Display.Monthly)
	}

	if rr := do(t, srv, http.MethodGet, "/api/months/2024-03/series", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("padded month status=%d", rr.Code)
	}
}

func TestAddExpenseValidation(t *testing.T) {
	srv, store := newTestServer(t, Options{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing amount", `{"date":"2024-03-01"}`, http.StatusUnprocessableEntity},
		{"bad date", `{"date":"yesterday","amount":1}`, http.StatusUnprocessableEntity},
		{"string amount", `{"date":"2024-03-01","amount":"1"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, srv, http.MethodPost, "/api/expenses", tt.body); rr.Code != tt.want {
				t.Fatalf("status=%d, want %d", rr.Code, tt.want)
			}
		})
	}
	if _, ok, _ := store.Get(context.Background(), kv.FuelExpensesKey); ok {
		t.Errorf("rejected expenses reached the store")
	}

	rr := do(t, srv, http.MethodPost, "/api/expenses", `{"date":"2024-03-01","amount":-2}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("refund status=%d", rr.Code)
	}
	if got := decode[addExpenseResponse](t, rr); got.Display != "-R$ 2,00" || got.QuinzenaTotal != -2 {
		t.Errorf("refund response = %+v", got)
	}
}

func TestExportImport(t *testing.T) {
	src, srcStore := newTestServer(t, Options{})
	legacy := `{"2024-2":{"15":{"flash":1,"interlog":0,"ecommerce":0,"loggi":0,"isExpress":true}}}`
	if err := srcStore.Set(context.Background(), kv.DeliveryDataKey, []byte(legacy)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := do(t, src, http.MethodGet, "/api/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export status=%d", rr.Code)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "entregas-backup-2024-03-10.json") {
		t.Errorf("content disposition = %q", cd)
	}
	if !strings.Contains(rr.Body.String(), `"isExpress":true`) {
		t.Errorf("export altered the legacy record: %s", rr.Body.String())
	}

	dst, _ := newTestServer(t, Options{})
	if got := do(t, dst, http.MethodPost, "/api/import", rr.Body.String()); got.Code != http.StatusNoContent {
		t.Fatalf("import status=%d body=%s", got.Code, got.Body.String())
	}
	entry := decode[entryResponse](t, do(t, dst, http.MethodGet, "/api/entries/2024-02-15", ""))
	if entry.Entry.Flash.Express != 1 {
		t.Errorf("imported legacy entry = %+v", entry)
	}

	if got := do(t, dst, http.MethodPost, "/api/import", `{"deliveryData":{"2024-02":{}}}`); got.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad snapshot status=%d", got.Code)
	}
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	srv, _ := newTestServer(t, Options{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		if rr := do(t, srv, http.MethodPost, "/api/expenses", `{"date":"2024-03-01","amount":1}`); rr.Code != http.StatusCreated {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := do(t, srv, http.MethodPost, "/api/expenses", `{"date":"2024-03-01","amount":1}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("missing Retry-After header")
	}

	if rr := do(t, srv, http.MethodGet, "/api/summary", ""); rr.Code != http.StatusOK {
		t.Errorf("reads should not be limited, status=%d", rr.Code)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/api/summary", "")
	if rr.Header().Get(log.RequestIDHeader) == "" {
		t.Errorf("missing request id header")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing security headers")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}
