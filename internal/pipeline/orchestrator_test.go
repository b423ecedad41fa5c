package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cas-valuer/internal/config"
	apperrors "cas-valuer/internal/errors"
	"cas-valuer/internal/models"
	"cas-valuer/internal/navsource"
	"cas-valuer/internal/notify"
	"cas-valuer/internal/store"
)

const oneHolding = `{"folios": [{"folio": "F1", "amc": "Example MF", "PAN": "ABCDE1234F", "schemes": [
  {"scheme": "Example Flexi Cap", "isin": "INF000A01234", "amfi": "120503", "type": "EQUITY", "transactions": [
    {"date": "2023-01-05", "description": "Purchase", "amount": 1000, "units": 100, "nav": 10, "balance": 100, "type": "PURCHASE"},
    {"date": "2023-02-10", "description": "Redemption", "amount": null, "units": -40, "nav": null, "balance": 60, "type": "REDEMPTION"}
  ]}
]}]}`

const twoHoldings = `{"folios": [{"folio": "F1", "schemes": [
  {"scheme": "Good Fund", "amfi": "120503", "transactions": [
    {"date": "2023-01-05", "amount": 1000, "units": 100, "nav": 10, "type": "PURCHASE"}
  ]},
  {"scheme": "Delisted Fund", "amfi": "999999", "transactions": [
    {"date": "2023-01-05", "amount": 500, "units": 50, "nav": 10, "type": "PURCHASE"}
  ]}
]}]}`

var navBodies = map[string]string{
	"120503": `{"meta": {"fund_house": "Example MF", "scheme_type": "Open Ended Schemes", "scheme_category": "Flexi Cap", "scheme_code": 120503, "scheme_name": "Example Flexi Cap"},
	  "data": [{"date": "10-02-2023", "nav": "12.0"}, {"date": "06-01-2023", "nav": "10.5"}, {"date": "05-01-2023", "nav": "10.0"}, {"date": "02-01-2023", "nav": "9.5"}],
	  "status": "SUCCESS"}`,
}

// countingStore records Release calls per statement.
type countingStore struct {
	*store.SQLiteStore

	mu       sync.Mutex
	releases map[string][]models.StatementStatus
}

func (s *countingStore) Release(ctx context.Context, id string, outcome models.StatementStatus) error {
	s.mu.Lock()
	s.releases[id] = append(s.releases[id], outcome)
	s.mu.Unlock()
	return s.SQLiteStore.Release(ctx, id, outcome)
}

func (s *countingStore) releasesFor(id string) []models.StatementStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StatementStatus(nil), s.releases[id]...)
}

type panicCollector struct{}

func (panicCollector) Collect(ctx context.Context, amfi string) ([]models.Quote, error) {
	panic("provider exploded")
}

type fixture struct {
	store *countingStore
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	cs := &countingStore{SQLiteStore: s, releases: make(map[string][]models.StatementStatus)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := navBodies[strings.TrimPrefix(r.URL.Path, "/mf/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := navsource.NewClient(config.NAVConfig{
		BaseURL:         srv.URL,
		Timeout:         5 * time.Second,
		MaxAttempts:     1,
		BreakerFailures: 100,
		BreakerCooldown: time.Minute,
	}, zerolog.Nop())
	collector := navsource.NewCollector(client, cs, zerolog.Nop())

	orch := New(cs, collector, config.PipelineConfig{StatementWorkers: 2, HoldingConcurrency: 2}, zerolog.Nop())
	return &fixture{store: cs, orch: orch}
}

func (f *fixture) ingest(t *testing.T, fileName, data string) string {
	t.Helper()
	doc := &models.StatementDocument{FileName: fileName, Data: json.RawMessage(data), Status: models.StatusPending}
	if _, err := f.store.InsertStatement(context.Background(), doc); err != nil {
		t.Fatalf("InsertStatement() error = %v", err)
	}
	return doc.ID
}

func (f *fixture) status(t *testing.T, id string) models.StatementStatus {
	t.Helper()
	doc, err := f.store.GetStatement(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatement() error = %v", err)
	}
	if doc.Locked {
		t.Errorf("statement %s still locked", id)
	}
	return doc.Status
}

func TestRunOnceEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.ingest(t, "cas.pdf", oneHolding)

	summary, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.Completed != 1 || summary.Failed != 0 || summary.RunID == "" {
		t.Errorf("summary = %+v", summary)
	}
	if got := f.status(t, id); got != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}

	vals, err := f.store.GetValuations(ctx, "120503")
	if err != nil {
		t.Fatalf("GetValuations() error = %v", err)
	}
	// The 2023-01-02 quote predates the first transaction and is dropped.
	want := []struct{ date, units, amount, valuation string }{
		{"2023-01-05", "100", "1000", "1000"},
		{"2023-01-06", "100", "1000", "1050"},
		{"2023-02-10", "60", "600", "720"},
	}
	if len(vals) != len(want) {
		t.Fatalf("got %d valuations, want %d", len(vals), len(want))
	}
	for i, w := range want {
		v := vals[i]
		if models.FormatDate(v.Date) != w.date || v.TotalUnits.String() != w.units ||
			v.TotalAmount.String() != w.amount || v.TotalValuation.String() != w.valuation {
			t.Errorf("row %d = %s units %s amount %s valuation %s, want %+v",
				i, models.FormatDate(v.Date), v.TotalUnits, v.TotalAmount, v.TotalValuation, w)
		}
	}

	schemes, err := f.store.ListSchemes(ctx)
	if err != nil || len(schemes) != 1 || schemes[0].SchemeCategory != "Flexi Cap" || schemes[0].Folio != "F1" {
		t.Errorf("ListSchemes() = %+v, %v", schemes, err)
	}
	if got := f.store.releasesFor(id); len(got) != 1 || got[0] != models.StatusCompleted {
		t.Errorf("releases = %v, want [completed]", got)
	}

	// A completed statement is not picked up again.
	summary, err = f.orch.RunOnce(ctx)
	if err != nil || summary.Discovered != 0 {
		t.Errorf("second RunOnce() = %+v, %v", summary, err)
	}
}

func TestReprocessingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t, "a.pdf", oneHolding)
	f.ingest(t, "b.pdf", oneHolding)

	summary, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.Completed != 2 {
		t.Fatalf("summary = %+v, want 2 completed", summary)
	}

	txns, err := f.store.GetTransactions(ctx, store.TransactionFilter{AMFI: "120503"})
	if err != nil {
		t.Fatalf("GetTransactions() error = %v", err)
	}
	if len(txns) != 2 {
		t.Errorf("got %d transactions, want 2 after duplicate statement", len(txns))
	}
	vals, _ := f.store.GetValuations(ctx, "120503")
	if len(vals) != 3 || vals[2].TotalUnits.String() != "60" {
		t.Errorf("valuations after duplicate statement = %+v", vals)
	}
}

func TestMalformedStatementFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bad := f.ingest(t, "bad.pdf", `{"folios": "nope"}`)
	good := f.ingest(t, "good.pdf", oneHolding)

	summary, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.Completed != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 completed 1 failed", summary)
	}
	if got := f.status(t, bad); got != models.StatusFailed {
		t.Errorf("bad status = %s, want failed", got)
	}
	if got := f.status(t, good); got != models.StatusCompleted {
		t.Errorf("good status = %s, want completed", got)
	}
	if got := f.store.releasesFor(bad); len(got) != 1 || got[0] != models.StatusFailed {
		t.Errorf("releases = %v, want exactly [failed]", got)
	}

	// Failed statements stay claimable for retry.
	ids, err := f.store.ListClaimable(ctx)
	if err != nil || len(ids) != 1 || ids[0] != bad {
		t.Errorf("ListClaimable() = %v, %v, want [%s]", ids, err, bad)
	}
}

func TestHoldingFailureDoesNotStopSiblings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.ingest(t, "two.pdf", twoHoldings)

	status, err := f.orch.ProcessStatement(ctx, id)
	if status != models.StatusFailed {
		t.Errorf("status = %s, want failed", status)
	}
	if !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}

	vals, err := f.store.GetValuations(ctx, "120503")
	if err != nil {
		t.Fatalf("GetValuations() error = %v", err)
	}
	if len(vals) == 0 {
		t.Error("healthy sibling holding produced no valuations")
	}
	if got := f.store.releasesFor(id); len(got) != 1 {
		t.Errorf("released %d times, want 1", len(got))
	}
}

func TestPanicIsReleasedOnce(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, "panic.pdf", oneHolding)
	f.orch.collector = panicCollector{}

	status, err := f.orch.ProcessStatement(context.Background(), id)
	if status != models.StatusFailed || err == nil {
		t.Errorf("ProcessStatement() = %s, %v, want failed with error", status, err)
	}
	var se *apperrors.StatementError
	if !errors.As(err, &se) || se.Stage != "panic" {
		t.Errorf("error = %v, want StatementError at stage panic", err)
	}
	if got := f.status(t, id); got != models.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if got := f.store.releasesFor(id); len(got) != 1 || got[0] != models.StatusFailed {
		t.Errorf("releases = %v, want exactly [failed]", got)
	}
}

func TestProcessStatementAlreadyClaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.ingest(t, "cas.pdf", oneHolding)

	if doc, err := f.store.Claim(ctx, id); err != nil || doc == nil {
		t.Fatalf("Claim() = %v, %v", doc, err)
	}

	status, err := f.orch.ProcessStatement(ctx, id)
	if err != nil || status != "" {
		t.Errorf("ProcessStatement() = %q, %v, want skip", status, err)
	}
	if got := f.store.releasesFor(id); len(got) != 0 {
		t.Errorf("released a statement it did not own: %v", got)
	}
}

type outcomeChannel struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *outcomeChannel) Name() string    { return "test" }
func (c *outcomeChannel) IsEnabled() bool { return true }

func (c *outcomeChannel) Send(ctx context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return errors.New("channel offline")
}

func TestOutcomesAreNotified(t *testing.T) {
	f := newFixture(t)
	bad := f.ingest(t, "bad.pdf", `{"folios": "nope"}`)
	f.ingest(t, "good.pdf", oneHolding)

	ch := &outcomeChannel{}
	mn := notify.NewMultiNotifier(config.NotifyConfig{Level: "failures"})
	mn.AddChannel(ch)
	f.orch.WithNotifier(mn)

	summary, err := f.orch.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.Completed != 1 {
		t.Errorf("summary = %+v, a failing channel must not fail statements", summary)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(ch.sent))
	}
	n := ch.sent[0]
	if n.Type != notify.NotificationFailed || n.Data["statement_id"] != bad {
		t.Errorf("notification = %+v", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, "cas.pdf", oneHolding)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx, 10*time.Millisecond) }()

	deadline := time.After(5 * time.Second)
	for {
		doc, err := f.store.GetStatement(context.Background(), id)
		if err == nil && doc.Status == models.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("statement was not processed by Run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	f := newFixture(t)
	var verr *apperrors.ValidationError
	if err := f.orch.Run(context.Background(), 0); !errors.As(err, &verr) {
		t.Errorf("Run(0) = %v, want ValidationError", err)
	}
}

const sameSchemeOtherFolio = `{"folios": [{"folio": "F2", "amc": "Example MF", "schemes": [
  {"scheme": "Example Flexi Cap", "amfi": "120503", "transactions": [
    {"date": "2023-01-06", "amount": 525, "units": 50, "nav": 10.5, "balance": 50, "type": "PURCHASE"}
  ]}
]}]}`

func TestStatementsSharingASchemeValueEveryLedgerRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t, "first.pdf", oneHolding)
	f.ingest(t, "second.pdf", sameSchemeOtherFolio)

	summary, err := f.orch.RunOnce(ctx)
	if err != nil || summary.Completed != 2 {
		t.Fatalf("RunOnce() = %+v, %v", summary, err)
	}

	vals, err := f.store.GetValuations(ctx, "120503")
	if err != nil {
		t.Fatalf("GetValuations() error = %v", err)
	}
	last := vals[len(vals)-1]
	if models.FormatDate(last.Date) != "2023-02-10" ||
		last.TotalUnits.String() != "110" ||
		last.TotalValuation.String() != "1320" {
		t.Errorf("last row = %s units %s valuation %s, want 2023-02-10 110 1320",
			models.FormatDate(last.Date), last.TotalUnits, last.TotalValuation)
	}
}

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("120503")

	acquired := make(chan struct{})
	go func() {
		release := k.Lock("120503")
		close(acquired)
		release()
	}()

	// Other keys are independent.
	k.Lock("999999")()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("key not handed over after unlock")
	}
}
