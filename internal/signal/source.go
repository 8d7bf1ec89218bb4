package signal

import (
	"context"
	"slices"

	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/series"
)

// StaticSource serves a precomputed probability series as is. Points the
// bars do not cover are left in so Filter.Evaluate can reject them.
type StaticSource struct {
	Points []core.ProbabilityPoint
}

// Probabilities implements ProbabilitySource.
func (s StaticSource) Probabilities(ctx context.Context, symbol string, bars *series.Series) ([]core.ProbabilityPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(s.Points), nil
}
