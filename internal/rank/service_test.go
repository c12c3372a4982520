package rank_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visual/ranking-engine/internal/config"
	"github.com/visual/ranking-engine/internal/engine"
	"github.com/visual/ranking-engine/internal/model"
	"github.com/visual/ranking-engine/internal/rank"
	"github.com/visual/ranking-engine/internal/store"
)

// newTestEnv creates a Service over an in-memory store and ledger and
// mounts it on a chi router the way cmd/server does.
func newTestEnv(t *testing.T) (*store.MemoryLedger, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	ledger := store.NewMemoryLedger()

	cfg := config.Engine{
		TopTierSize:        2,
		ContributorBandEnd: 4,
		MinContributions:   1,
		NetFeeBps:          7000,
		TierBps:            6000,
		WinnerBps:          4000,
		TransferHold:       24 * time.Hour,
	}
	eng := engine.New(cfg, ledger, ms)
	svc := rank.NewService(eng, ms)

	r := chi.NewRouter()
	r.Post("/api/v1/rankings/{day}/run", svc.RunRanking)
	r.Get("/api/v1/rankings/{day}", svc.GetRanking)
	r.Get("/api/v1/rankings", svc.GetHistory)
	r.Get("/api/v1/points/{userID}", svc.GetPoints)

	return ledger, ms, r
}

// seedDay loads one backer paying 10 EUR for an owned item on the day.
func seedDay(ledger *store.MemoryLedger, day model.Day) {
	ledger.AddContribution(model.ContributionRecord{
		ID:         "c-" + string(day),
		BackerID:   "b1",
		ItemID:     "i1",
		GrossCents: 1000,
		At:         day.Time().Add(9 * time.Hour),
	})
	ledger.SetOwner("i1", "o1")
}

func do(t *testing.T, router chi.Router, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRunRanking_FirstRun(t *testing.T) {
	ledger, _, router := newTestEnv(t)
	seedDay(ledger, "2026-03-14")

	w := do(t, router, "POST", "/api/v1/rankings/2026-03-14/run")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp rank.RunResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Day != "2026-03-14" {
		t.Errorf("expected day=2026-03-14, got %s", resp.Day)
	}
	if resp.AlreadyProcessed {
		t.Error("first run should not be already_processed")
	}
	if resp.State != model.PoolDistributed {
		t.Errorf("expected distributed, got %s", resp.State)
	}
	if len(resp.Rankings) != 1 {
		t.Fatalf("expected 1 ranking, got %d", len(resp.Rankings))
	}
	if resp.PoolEUR != "0.00" {
		t.Errorf("expected pool_eur=0.00 (no contributor band), got %s", resp.PoolEUR)
	}
}

func TestRunRanking_RerunReturnsStoredResult(t *testing.T) {
	ledger, _, router := newTestEnv(t)
	seedDay(ledger, "2026-03-14")

	do(t, router, "POST", "/api/v1/rankings/2026-03-14/run")
	w := do(t, router, "POST", "/api/v1/rankings/2026-03-14/run")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on rerun, got %d: %s", w.Code, w.Body.String())
	}

	var resp rank.RunResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.AlreadyProcessed {
		t.Error("rerun should report already_processed")
	}
}

func TestRunRanking_DryRunPersistsNothing(t *testing.T) {
	ledger, ms, router := newTestEnv(t)
	seedDay(ledger, "2026-03-14")

	w := do(t, router, "POST", "/api/v1/rankings/2026-03-14/run?dry_run=true")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp rank.RunResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.DryRun {
		t.Error("expected dry_run flag in response")
	}

	if _, err := ms.GetPool(context.Background(), "2026-03-14"); err != store.ErrNotFound {
		t.Errorf("dry run must not create a pool, got %v", err)
	}

	w = do(t, router, "GET", "/api/v1/rankings/2026-03-14")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after dry run, got %d", w.Code)
	}
}

func TestRunRanking_InvalidDate(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/rankings/march-14/run")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", w.Code)
	}
}

func TestGetRanking_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/rankings/2026-03-14")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetRanking_AfterRun(t *testing.T) {
	ledger, _, router := newTestEnv(t)
	seedDay(ledger, "2026-03-14")
	do(t, router, "POST", "/api/v1/rankings/2026-03-14/run")

	w := do(t, router, "GET", "/api/v1/rankings/2026-03-14")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp rank.RunResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.State != model.PoolDistributed {
		t.Errorf("expected distributed, got %s", resp.State)
	}
	if len(resp.Rankings) != 1 {
		t.Errorf("expected 1 ranking, got %d", len(resp.Rankings))
	}
}

func TestGetHistory_LimitAndOrder(t *testing.T) {
	ledger, _, router := newTestEnv(t)
	seedDay(ledger, "2026-03-13")
	seedDay(ledger, "2026-03-14")
	do(t, router, "POST", "/api/v1/rankings/2026-03-13/run")
	do(t, router, "POST", "/api/v1/rankings/2026-03-14/run")

	w := do(t, router, "GET", "/api/v1/rankings?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp []rank.RunResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp))
	}
	if resp[0].Day != "2026-03-14" {
		t.Errorf("expected newest day first, got %s", resp[0].Day)
	}
}

func TestGetHistory_BadLimit(t *testing.T) {
	_, _, router := newTestEnv(t)

	for _, limit := range []string{"0", "-3", "9999", "many"} {
		w := do(t, router, "GET", "/api/v1/rankings?limit="+limit)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, w.Code)
		}
	}
}

func TestGetPoints(t *testing.T) {
	ledger, _, router := newTestEnv(t)
	// Rank 1 item owned by o1; b1's contribution is in the band of a
	// second item so the pool is non-zero.
	ledger.AddContribution(model.ContributionRecord{
		ID: "c1", BackerID: "b1", ItemID: "i1", GrossCents: 10000,
		At: model.Day("2026-03-14").Time().Add(time.Hour),
	})
	ledger.AddContribution(model.ContributionRecord{
		ID: "c2", BackerID: "b2", ItemID: "i2", GrossCents: 6000,
		At: model.Day("2026-03-14").Time().Add(time.Hour),
	})
	ledger.AddContribution(model.ContributionRecord{
		ID: "c3", BackerID: "b3", ItemID: "i3", GrossCents: 4000,
		At: model.Day("2026-03-14").Time().Add(time.Hour),
	})
	for _, pair := range [][2]string{{"i1", "o1"}, {"i2", "o2"}, {"i3", "o3"}} {
		ledger.SetOwner(pair[0], pair[1])
	}

	do(t, router, "POST", "/api/v1/rankings/2026-03-14/run")

	// i3 is rank 3, in the band: pool = 4000, tier side 2400 split
	// between o1 and o2, winner side 1600 between b1 and b2.
	w := do(t, router, "GET", "/api/v1/points/o1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		UserID string `json:"user_id"`
		Points int64  `json:"points"`
		EUR    string `json:"eur"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Points != 1200 {
		t.Errorf("expected 1200 points for o1, got %d", resp.Points)
	}
	if resp.EUR != "12.00" {
		t.Errorf("expected eur=12.00, got %s", resp.EUR)
	}

	// Unknown users have a zero balance, not an error.
	w = do(t, router, "GET", "/api/v1/points/nobody")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown user, got %d", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Points != 0 {
		t.Errorf("expected 0 points, got %d", resp.Points)
	}
}
