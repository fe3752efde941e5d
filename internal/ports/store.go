package ports

import (
	"context"
	"errors"

	"github.com/b0gdan00/Aspirantura-research/internal/domain"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

type ExperimentStore interface {
	CreateExperiment(ctx context.Context, exp *domain.Experiment) error
	GetExperiment(ctx context.Context, id int64) (*domain.Experiment, error)
	ListExperiments(ctx context.Context, limit int) ([]*domain.Experiment, error)
	// UpdateExperiment persists status, timestamps and configuration and
	// refreshes updated_at.
	UpdateExperiment(ctx context.Context, exp *domain.Experiment) error
}

type FrameStore interface {
	// WriteFrames persists a batch in one bulk insert. Per-row side effects
	// are intentionally skipped for throughput.
	WriteFrames(ctx context.Context, experimentID int64, frames []*domain.Frame) error
	CountFrames(ctx context.Context, experimentID int64) (int64, error)
	LastFrame(ctx context.Context, experimentID int64) (*domain.Frame, error)
	// RecentFrames returns up to limit frames with the highest (second, id),
	// in ascending order.
	RecentFrames(ctx context.Context, experimentID int64, limit int) ([]*domain.Frame, error)
}
