package pipeline

import (
	"context"
	"time"

	cb "github.com/sony/gobreaker"

	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/persistence"
)

// guardedSnapshots wraps the snapshot repository in a circuit breaker so a
// struggling upstream store sheds load fast instead of stalling every unit.
type guardedSnapshots struct {
	inner persistence.SnapshotRepo
	cb    *cb.CircuitBreaker
}

func newGuardedSnapshots(inner persistence.SnapshotRepo) *guardedSnapshots {
	st := cb.Settings{Name: "snapshots"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	return &guardedSnapshots{inner: inner, cb: cb.NewCircuitBreaker(st)}
}

func (g *guardedSnapshots) Upsert(ctx context.Context, row domain.SnapshotRow) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, g.inner.Upsert(ctx, row)
	})
	return err
}

func (g *guardedSnapshots) ListByEpochWindow(ctx context.Context, epoch int64, window domain.Window, minQuality float64) ([]domain.SnapshotRow, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.inner.ListByEpochWindow(ctx, epoch, window, minQuality)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.SnapshotRow), nil
}

func (g *guardedSnapshots) WindowStats(ctx context.Context, epoch int64) (map[domain.Window]persistence.WindowStats, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.inner.WindowStats(ctx, epoch)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[domain.Window]persistence.WindowStats), nil
}

func (g *guardedSnapshots) Epochs(ctx context.Context, limit int) ([]int64, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.inner.Epochs(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]int64), nil
}
