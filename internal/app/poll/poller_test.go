package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/b0gdan00/Aspirantura-research/internal/adapters/serial"
	"github.com/b0gdan00/Aspirantura-research/internal/domain"
	"github.com/b0gdan00/Aspirantura-research/internal/ports"
)

type memStore struct {
	mu   sync.Mutex
	exps map[int64]*domain.Experiment
}

func newMemStore(exps ...*domain.Experiment) *memStore {
	m := &memStore{exps: make(map[int64]*domain.Experiment)}
	for _, e := range exps {
		m.exps[e.ID] = e
	}
	return m
}

func (m *memStore) CreateExperiment(_ context.Context, exp *domain.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exps[exp.ID] = exp
	return nil
}

func (m *memStore) GetExperiment(_ context.Context, id int64) (*domain.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.exps[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *exp
	return &cp, nil
}

func (m *memStore) ListExperiments(context.Context, int) ([]*domain.Experiment, error) {
	return nil, nil
}

func (m *memStore) UpdateExperiment(_ context.Context, exp *domain.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exps[exp.ID]; !ok {
		return ports.ErrNotFound
	}
	cp := *exp
	m.exps[exp.ID] = &cp
	return nil
}

func (m *memStore) setStatus(id int64, status domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exps[id].Status = status
}

type memFrames struct {
	mu       sync.Mutex
	frames   []*domain.Frame
	failNext int
}

func (m *memFrames) WriteFrames(_ context.Context, _ int64, frames []*domain.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return errors.New("database unavailable")
	}
	m.frames = append(m.frames, frames...)
	return nil
}

func (m *memFrames) CountFrames(context.Context, int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.frames)), nil
}

func (m *memFrames) LastFrame(context.Context, int64) (*domain.Frame, error) {
	return nil, ports.ErrNotFound
}

func (m *memFrames) RecentFrames(context.Context, int64, int) ([]*domain.Frame, error) {
	return nil, nil
}

func (m *memFrames) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// devicePort answers READ_ALL with a well-formed telemetry line whose
// timestamp advances 50ms per poll.
type devicePort struct {
	mu      sync.Mutex
	tms     int
	pending []byte
	polls   int
}

func (d *devicePort) Write(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls++
	d.tms += 50
	line := fmt.Sprintf("OK DATA %d 1200 101.3 22.7 1\n", d.tms)
	d.pending = append(d.pending, []byte(line)...)
	return len(b), nil
}

func (d *devicePort) Read(b []byte) (int, error) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, io.EOF
	}
	b[0] = d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()
	return 1, nil
}

func (d *devicePort) Close() error { return nil }
func (d *devicePort) Flush() error { return nil }

func (d *devicePort) pollCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls
}

func testSessions(dev *devicePort) *serial.Registry {
	return serial.NewRegistry(serial.Defaults{
		Open: func(string, int, time.Duration) (serial.Port, error) {
			return dev, nil
		},
	})
}

func runningExperiment(id int64) *domain.Experiment {
	return &domain.Experiment{
		ID:         id,
		Status:     domain.StatusRunning,
		SerialPort: "/dev/ttyUSB0",
		BaudRate:   115200,
	}
}

func fastSettings() Settings {
	return Settings{
		Hz:              200,
		BatchSize:       3,
		FlushKeepTail:   2,
		ExchangeTimeout: 100 * time.Millisecond,
		IdleRecheck:     5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestPollerCollectsAndFlushesBatches(t *testing.T) {
	exp := runningExperiment(1)
	store := newMemStore(exp)
	frames := &memFrames{}
	dev := &devicePort{}

	reg := NewRegistry(store, frames, testSessions(dev), ports.NopMetrics{}, fastSettings())
	reg.EnsureRunning(exp)
	defer reg.StopAll()

	waitFor(t, func() bool { return frames.total() >= 3 }, "first batch flush")

	frames.mu.Lock()
	first := frames.frames[0]
	frames.mu.Unlock()
	if first.Second != 0.05 || first.Temperature != 22.7 || first.DifPressure != 101.3 {
		t.Fatalf("unexpected first frame: %+v", first)
	}
	if first.ExperimentID != 1 {
		t.Fatalf("frame not linked to experiment: %+v", first)
	}
}

func TestPollerPausesWhenNotRunning(t *testing.T) {
	exp := runningExperiment(2)
	store := newMemStore(exp)
	frames := &memFrames{}
	dev := &devicePort{}

	reg := NewRegistry(store, frames, testSessions(dev), ports.NopMetrics{}, fastSettings())
	reg.EnsureRunning(exp)
	defer reg.StopAll()

	waitFor(t, func() bool { return dev.pollCount() > 0 }, "first poll")

	store.setStatus(2, domain.StatusAborted)
	waitFor(t, func() bool {
		before := dev.pollCount()
		time.Sleep(50 * time.Millisecond)
		return dev.pollCount() == before
	}, "polling to quiesce")
}

func TestPollerExitsWhenExperimentDeleted(t *testing.T) {
	store := newMemStore() // no record at all
	frames := &memFrames{}
	dev := &devicePort{}

	p := newPoller(runningExperiment(3), fastSettings(), store, frames, testSessions(dev), ports.NopMetrics{})
	p.start()

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not exit after experiment deletion")
	}
	if dev.pollCount() != 0 {
		t.Fatalf("poller polled a deleted experiment")
	}
}

func TestFlushFailureKeepsOnlyTail(t *testing.T) {
	exp := runningExperiment(4)
	store := newMemStore(exp)
	frames := &memFrames{failNext: 1}
	dev := &devicePort{}

	settings := Settings{BatchSize: 20, FlushKeepTail: 10, Hz: 20}
	p := newPoller(exp, settings, store, frames, testSessions(dev), ports.NopMetrics{})

	for i := 0; i < 25; i++ {
		p.buf.Append(&domain.Frame{ExperimentID: 4, Second: float64(i)})
	}

	p.flush(context.Background())

	if got := p.buf.Len(); got != 10 {
		t.Fatalf("expected buffer truncated to 10, got %d", got)
	}
	kept := p.buf.Snapshot()
	if kept[0].Second != 15 || kept[9].Second != 24 {
		t.Fatalf("expected the 10 most recent frames, got [%v..%v]",
			kept[0].Second, kept[9].Second)
	}
	if frames.total() != 0 {
		t.Fatalf("failed flush must not persist rows, got %d", frames.total())
	}

	// Next flush succeeds with the surviving tail.
	p.flush(context.Background())
	if frames.total() != 10 || p.buf.Len() != 0 {
		t.Fatalf("expected tail flushed, got %d rows and %d buffered",
			frames.total(), p.buf.Len())
	}
}

func TestStopPerformsFinalFlush(t *testing.T) {
	exp := runningExperiment(5)
	store := newMemStore(exp)
	frames := &memFrames{}
	dev := &devicePort{}

	settings := fastSettings()
	settings.BatchSize = 1000 // never reaches a scheduled flush
	p := newPoller(exp, settings, store, frames, testSessions(dev), ports.NopMetrics{})
	p.start()

	waitFor(t, func() bool { return p.buf.Len() >= 2 }, "buffered samples")
	p.Stop(2 * time.Second)

	if frames.total() < 2 {
		t.Fatalf("expected final flush to persist buffered frames, got %d", frames.total())
	}
}

func TestEnsureRunningIsIdempotent(t *testing.T) {
	exp := runningExperiment(6)
	store := newMemStore(exp)
	frames := &memFrames{}
	dev := &devicePort{}

	reg := NewRegistry(store, frames, testSessions(dev), ports.NopMetrics{}, fastSettings())
	defer reg.StopAll()

	reg.EnsureRunning(exp)
	reg.EnsureRunning(exp)

	reg.mu.Lock()
	n := len(reg.pollers)
	reg.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one poller, got %d", n)
	}
}

func TestEnsureRunningRequiresPortAndRunningStatus(t *testing.T) {
	store := newMemStore()
	frames := &memFrames{}
	dev := &devicePort{}
	reg := NewRegistry(store, frames, testSessions(dev), ports.NopMetrics{}, fastSettings())

	noPort := &domain.Experiment{ID: 7, Status: domain.StatusRunning}
	reg.EnsureRunning(noPort)
	if reg.Active(7) {
		t.Fatalf("poller started without a configured port")
	}

	notRunning := &domain.Experiment{ID: 8, Status: domain.StatusReady, SerialPort: "/dev/ttyUSB0", BaudRate: 115200}
	reg.EnsureRunning(notRunning)
	if reg.Active(8) {
		t.Fatalf("poller started for a non-running experiment")
	}
}

func TestStopThenEnsureRunningLeavesOnePoller(t *testing.T) {
	exp := runningExperiment(9)
	store := newMemStore(exp)
	frames := &memFrames{}
	dev := &devicePort{}

	reg := NewRegistry(store, frames, testSessions(dev), ports.NopMetrics{}, fastSettings())
	defer reg.StopAll()

	reg.EnsureRunning(exp)
	reg.Stop(9)
	reg.EnsureRunning(exp)

	reg.mu.Lock()
	n := len(reg.pollers)
	reg.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one poller after stop+ensure, got %d", n)
	}
}

func TestBufferTruncateTail(t *testing.T) {
	b := NewBuffer(4)
	for i := 0; i < 5; i++ {
		b.Append(&domain.Frame{Second: float64(i)})
	}
	if dropped := b.TruncateTail(2); dropped != 3 {
		t.Fatalf("expected 3 dropped, got %d", dropped)
	}
	kept := b.Snapshot()
	if len(kept) != 2 || kept[0].Second != 3 || kept[1].Second != 4 {
		t.Fatalf("unexpected kept frames: %+v", kept)
	}
	if dropped := b.TruncateTail(5); dropped != 0 {
		t.Fatalf("truncate below length must drop nothing, got %d", dropped)
	}
}
