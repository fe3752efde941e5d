// Package poll runs one background telemetry poller per active experiment
// and the registry that owns their lifecycles.
package poll

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/b0gdan00/Aspirantura-research/internal/adapters/serial"
	"github.com/b0gdan00/Aspirantura-research/internal/domain"
	"github.com/b0gdan00/Aspirantura-research/internal/ports"
	"github.com/b0gdan00/Aspirantura-research/internal/protocol"
)

// Settings tune one poller. Zero values fall back to the defaults below.
type Settings struct {
	Hz              float64
	BatchSize       int
	FlushKeepTail   int
	ExchangeTimeout time.Duration
	IdleRecheck     time.Duration
}

func (s *Settings) applyDefaults() {
	if s.Hz < 1 {
		s.Hz = 20
	}
	if s.BatchSize < 1 {
		s.BatchSize = 20
	}
	if s.FlushKeepTail <= 0 || s.FlushKeepTail > s.BatchSize {
		s.FlushKeepTail = 10
		if s.FlushKeepTail > s.BatchSize {
			s.FlushKeepTail = s.BatchSize
		}
	}
	if s.ExchangeTimeout <= 0 {
		s.ExchangeTimeout = 800 * time.Millisecond
	}
	if s.IdleRecheck <= 0 {
		s.IdleRecheck = 250 * time.Millisecond
	}
}

// Poller repeatedly issues READ_ALL against its experiment's port, buffers
// parsed samples and flushes them in batches. It runs until stopped, or
// terminally when the experiment record disappears.
type Poller struct {
	experimentID int64
	port         string
	baud         int
	settings     Settings

	store    ports.ExperimentStore
	frames   ports.FrameStore
	sessions *serial.Registry
	metrics  ports.Metrics

	buf      *Buffer
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newPoller(exp *domain.Experiment, settings Settings,
	store ports.ExperimentStore, frames ports.FrameStore,
	sessions *serial.Registry, metrics ports.Metrics) *Poller {

	settings.applyDefaults()
	return &Poller{
		experimentID: exp.ID,
		port:         exp.SerialPort,
		baud:         exp.BaudRate,
		settings:     settings,
		store:        store,
		frames:       frames,
		sessions:     sessions,
		metrics:      metrics,
		buf:          NewBuffer(settings.BatchSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (p *Poller) start() {
	go p.run()
}

// Stop requests a cooperative shutdown and waits up to joinTimeout for the
// loop to finish its current iteration and exit. Returning after the timeout
// only promises that the loop will issue no new device traffic once it
// observes the signal.
func (p *Poller) Stop(joinTimeout time.Duration) {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
	case <-time.After(joinTimeout):
	}
}

func (p *Poller) run() {
	defer close(p.done)

	ctx := context.Background()
	period := time.Duration(float64(time.Second) / p.settings.Hz)
	next := time.Now()

	for {
		select {
		case <-p.stop:
			p.finalFlush(ctx)
			return
		default:
		}

		exp, err := p.store.GetExperiment(ctx, p.experimentID)
		if errors.Is(err, ports.ErrNotFound) {
			// Record gone: terminal, nothing left to attach frames to.
			log.Printf("poller exp=%d: experiment deleted, exiting", p.experimentID)
			return
		}
		if err != nil {
			if !p.sleep(p.settings.IdleRecheck) {
				p.finalFlush(ctx)
				return
			}
			continue
		}

		if exp.Status != domain.StatusRunning {
			// Quiesced externally; keep re-checking without touching the device.
			if !p.sleep(p.settings.IdleRecheck) {
				p.finalFlush(ctx)
				return
			}
			continue
		}

		p.pollOnce(ctx, exp)

		if p.buf.Len() >= p.settings.BatchSize {
			p.flush(ctx)
		}

		// Fixed wall-clock cadence; when lagging, resync to now instead of
		// bursting to catch up.
		next = next.Add(period)
		if wait := time.Until(next); wait > 0 {
			if !p.sleep(wait) {
				p.finalFlush(ctx)
				return
			}
		} else {
			next = time.Now()
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, exp *domain.Experiment) {
	sess, err := p.sessions.Get(p.port, p.baud)
	if err != nil {
		log.Printf("poller exp=%d: session: %v", p.experimentID, err)
		return
	}

	start := time.Now()
	res := sess.Exchange(ctx, protocol.CmdReadAll, p.settings.ExchangeTimeout)
	p.metrics.ObserveExchangeSeconds(time.Since(start).Seconds())
	p.metrics.IncPolls()

	if !res.Confirmed || len(res.Lines) == 0 {
		p.metrics.IncMissedSamples()
		return
	}
	sample, ok := protocol.ParseReadAll(res.Lines[len(res.Lines)-1])
	if !ok {
		// Confirmed but no parsable payload: a missed sample, not an error.
		p.metrics.IncMissedSamples()
		return
	}

	p.buf.Append(&domain.Frame{
		ExperimentID: exp.ID,
		Second:       sample.Elapsed,
		Temperature:  sample.Temperature,
		DifPressure:  sample.Pressure,
		ReceivedAt:   time.Now().UTC(),
	})
}

func (p *Poller) flush(ctx context.Context) {
	batch := p.buf.Snapshot()
	if len(batch) == 0 {
		return
	}
	if err := p.frames.WriteFrames(ctx, p.experimentID, batch); err != nil {
		p.metrics.IncFlushFailures()
		dropped := p.buf.TruncateTail(p.settings.FlushKeepTail)
		p.metrics.AddFramesDropped(dropped)
		log.Printf("poller exp=%d: flush failed, dropped %d buffered frames: %v",
			p.experimentID, dropped, err)
		return
	}
	p.buf.Clear()
	p.metrics.AddFramesFlushed(len(batch))
}

// finalFlush writes whatever is still buffered, suppressing errors; the loop
// is exiting either way.
func (p *Poller) finalFlush(ctx context.Context) {
	batch := p.buf.Snapshot()
	if len(batch) == 0 {
		return
	}
	if err := p.frames.WriteFrames(ctx, p.experimentID, batch); err == nil {
		p.metrics.AddFramesFlushed(len(batch))
	}
	p.buf.Clear()
}

// sleep waits for d or until a stop is requested; it reports false on stop.
func (p *Poller) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.stop:
		return false
	case <-t.C:
		return true
	}
}
