package poll

import (
	"sync"
	"time"

	"github.com/b0gdan00/Aspirantura-research/internal/adapters/serial"
	"github.com/b0gdan00/Aspirantura-research/internal/domain"
	"github.com/b0gdan00/Aspirantura-research/internal/ports"
)

const defaultJoinTimeout = 2 * time.Second

// Registry maps experiment IDs to their running pollers. The lifecycle
// controller drives it on every state-changing action.
type Registry struct {
	store    ports.ExperimentStore
	frames   ports.FrameStore
	sessions *serial.Registry
	metrics  ports.Metrics
	settings Settings

	mu      sync.Mutex
	pollers map[int64]*Poller
}

func NewRegistry(store ports.ExperimentStore, frames ports.FrameStore,
	sessions *serial.Registry, metrics ports.Metrics, settings Settings) *Registry {

	settings.applyDefaults()
	return &Registry{
		store:    store,
		frames:   frames,
		sessions: sessions,
		metrics:  metrics,
		settings: settings,
		pollers:  make(map[int64]*Poller),
	}
}

// EnsureRunning starts a poller for the experiment unless one already exists.
// It is a no-op for experiments without a configured port or not in the
// running state, so it is safe to call on every state change.
func (r *Registry) EnsureRunning(exp *domain.Experiment) {
	if exp.SerialPort == "" || exp.Status != domain.StatusRunning {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pollers[exp.ID]; ok {
		return
	}
	p := newPoller(exp, r.settings, r.store, r.frames, r.sessions, r.metrics)
	r.pollers[exp.ID] = p
	p.start()
	r.metrics.SetActivePollers(len(r.pollers))
}

// Stop removes the experiment's poller and stops it. The join wait happens
// outside the registry lock so a slow shutdown does not serialize unrelated
// experiments' registry operations.
func (r *Registry) Stop(experimentID int64) {
	r.mu.Lock()
	p, ok := r.pollers[experimentID]
	if ok {
		delete(r.pollers, experimentID)
		r.metrics.SetActivePollers(len(r.pollers))
	}
	r.mu.Unlock()

	if ok {
		p.Stop(defaultJoinTimeout)
	}
}

// StopAll stops every poller; used at service shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	pollers := make([]*Poller, 0, len(r.pollers))
	for _, p := range r.pollers {
		pollers = append(pollers, p)
	}
	r.pollers = make(map[int64]*Poller)
	r.metrics.SetActivePollers(0)
	r.mu.Unlock()

	for _, p := range pollers {
		p.Stop(defaultJoinTimeout)
	}
}

// Active reports whether a poller is currently registered for the experiment.
func (r *Registry) Active(experimentID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pollers[experimentID]
	return ok
}
