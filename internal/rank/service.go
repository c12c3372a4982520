// Package rank exposes the ranking engine over HTTP: triggering runs,
// fetching results and history, and querying point balances.
package rank

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/visual/ranking-engine/internal/engine"
	"github.com/visual/ranking-engine/internal/model"
	"github.com/visual/ranking-engine/internal/store"
)

// Service handles ranking API requests. Run triggers are serialized with
// a mutex (single-instance); the pool-per-day unique constraint is the
// real race-breaker across instances.
type Service struct {
	engine *engine.Engine
	store  store.Store
	mu     sync.Mutex
}

// NewService creates a ranking API service.
func NewService(eng *engine.Engine, st store.Store) *Service {
	return &Service{engine: eng, store: st}
}

// RunResponse wraps a run result with EUR renderings of the cent totals.
type RunResponse struct {
	*model.RunResult
	PoolEUR     string `json:"pool_eur"`
	PlatformEUR string `json:"platform_eur"`
}

func runResponse(res *model.RunResult) RunResponse {
	return RunResponse{
		RunResult:   res,
		PoolEUR:     model.EURString(res.PoolCents),
		PlatformEUR: model.EURString(res.PlatformCents),
	}
}

// RunRanking handles POST /api/v1/rankings/{day}/run
// Triggers the daily run for a date; ?dry_run=true computes everything
// without persisting. Idempotent: an already-finalized day returns its
// stored result.
func (s *Service) RunRanking(w http.ResponseWriter, r *http.Request) {
	day, err := model.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		writeError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	dryRun := r.URL.Query().Get("dry_run") == "true"

	s.mu.Lock()
	res, err := s.engine.Run(r.Context(), day, dryRun)
	s.mu.Unlock()

	switch {
	case errors.Is(err, engine.ErrRunInProgress):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		slog.Error("ranking run failed", "day", day, "dry_run", dryRun, "err", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if res.AlreadyProcessed || dryRun {
		status = http.StatusOK
	}
	writeJSON(w, status, runResponse(res))
}

// GetRanking handles GET /api/v1/rankings/{day}
func (s *Service) GetRanking(w http.ResponseWriter, r *http.Request) {
	day, err := model.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		writeError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	res, err := s.engine.GetRankingResult(r.Context(), day)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no ranking for "+string(day), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load ranking", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runResponse(res))
}

// GetHistory handles GET /api/v1/rankings?limit=N
// Returns the most recent finalized results, newest first.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeError(w, "limit must be 1..365", http.StatusBadRequest)
			return
		}
		limit = n
	}

	results, err := s.engine.History(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	out := make([]RunResponse, 0, len(results))
	for _, res := range results {
		out = append(out, runResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPoints handles GET /api/v1/points/{userID}
func (s *Service) GetPoints(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := s.store.PointsBalance(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"points":  balance,
		"eur":     model.EURString(balance), // 1 point == 1 cent
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
