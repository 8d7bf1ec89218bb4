package results

import (
	"context"
	"sort"
	"sync"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/sweep"
)

// MemoryStore is an in-memory result store with bounded run capacity.
type MemoryStore struct {
	runs    []*backtest.Result
	sweeps  map[string][]sweep.Row
	maxSize int
	mu      sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store keeping at most maxSize runs.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		runs:    make([]*backtest.Result, 0, maxSize),
		sweeps:  make(map[string][]sweep.Row),
		maxSize: maxSize,
	}
}

// SaveRun adds a run to the store.
func (m *MemoryStore) SaveRun(ctx context.Context, r *backtest.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	for i, existing := range m.runs {
		if existing.ID == r.ID {
			m.runs[i] = &cp
			return nil
		}
	}
	m.runs = append(m.runs, &cp)

	// Trim if over capacity (remove oldest)
	if m.maxSize > 0 && len(m.runs) > m.maxSize {
		m.runs = m.runs[len(m.runs)-m.maxSize:]
	}
	return nil
}

// GetRun retrieves a run by ID.
func (m *MemoryStore) GetRun(ctx context.Context, id string) (*backtest.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.runs {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, notFound("run", id)
}

// ListRuns returns runs matching the filter.
func (m *MemoryStore) ListRuns(ctx context.Context, filter ListFilter) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []RunSummary
	for _, r := range m.runs {
		if matches(r, filter) {
			result = append(result, Summarize(r))
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	// Apply offset and limit
	if filter.Offset >= len(result) {
		return []RunSummary{}, nil
	}
	result = result[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// CountRuns returns the count of matching runs.
func (m *MemoryStore) CountRuns(ctx context.Context, filter ListFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.runs {
		if matches(r, filter) {
			count++
		}
	}
	return count, nil
}

// SaveSweep stores a copy of rows.
func (m *MemoryStore) SaveSweep(ctx context.Context, sweepID string, rows []sweep.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps[sweepID] = append([]sweep.Row(nil), rows...)
	return nil
}

// GetSweep returns the rows of a sweep.
func (m *MemoryStore) GetSweep(ctx context.Context, sweepID string) ([]sweep.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.sweeps[sweepID]
	if !ok {
		return nil, notFound("sweep", sweepID)
	}
	return append([]sweep.Row(nil), rows...), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func matches(r *backtest.Result, filter ListFilter) bool {
	if filter.Symbol != "" && r.Symbol != filter.Symbol {
		return false
	}
	if filter.Mode != "" && r.Params.Mode != filter.Mode {
		return false
	}
	if !filter.From.IsZero() && r.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && r.CreatedAt.After(filter.To) {
		return false
	}
	return true
}
