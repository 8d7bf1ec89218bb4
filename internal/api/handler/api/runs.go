package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/newthinker/tpsl/internal/api/response"
	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/storage/results"
)

const defaultListLimit = 50

// RunsHandler serves persisted runs and sweeps.
type RunsHandler struct {
	store results.Store
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(store results.Store) *RunsHandler {
	return &RunsHandler{store: store}
}

// List returns run summaries matching query parameters.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := results.ListFilter{
		Symbol: q.Get("symbol"),
		Limit:  defaultListLimit,
	}

	if mode := q.Get("mode"); mode != "" {
		filter.Mode = backtest.Mode(mode)
	}
	if from := q.Get("from"); from != "" {
		if t, ok := parseQueryTime(from); ok {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, ok := parseQueryTime(to); ok {
			filter.To = t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		response.Fail(w, err)
		return
	}
	count, err := h.store.CountRuns(r.Context(), filter)
	if err != nil {
		response.Fail(w, err)
		return
	}

	response.Page(w, runs, response.Paging{
		Total:  count,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetByID returns a single run with its ledger.
func (h *RunsHandler) GetByID(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		response.Fail(w, err)
		return
	}

	response.JSON(w, http.StatusOK, run)
}

// GetSweep returns the rows of a persisted sweep.
func (h *RunsHandler) GetSweep(w http.ResponseWriter, r *http.Request, id string) {
	rows, err := h.store.GetSweep(r.Context(), id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if len(rows) == 0 {
		response.Error(w, http.StatusNotFound, core.Errorf(core.ErrNotFound, "sweep %s", id))
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"sweep_id": id,
		"rows":     rows,
	})
}

func parseQueryTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
