// Package collector implements the remote telemetry collector. It runs next
// to the test stand, keeps one serial session to the microcontroller, and
// ships frame batches to the control service over HTTP.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/b0gdan00/Aspirantura-research/internal/adapters/serial"
	"github.com/b0gdan00/Aspirantura-research/internal/protocol"
)

// Config is the collector's runtime configuration, normally sourced from the
// environment.
type Config struct {
	ExperimentID  int64
	ServerBaseURL string
	SerialPort    string
	BaudRate      int
	PollHz        float64
	BatchSize     int
	// BootDelay is slept after opening the port; opening usually resets the
	// microcontroller.
	BootDelay time.Duration

	// Open overrides the serial transport, for tests.
	Open serial.OpenFunc
	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

// ConfigFromEnv reads EXPERIMENT_ID, SERVER_BASE_URL, SERIAL_PORT, BAUD_RATE,
// POLL_HZ and BATCH_SIZE. EXPERIMENT_ID is required; everything else has a
// default. SERIAL_PORT may stay empty, in which case the collector resolves
// it from the experiment summary at startup.
func ConfigFromEnv() (Config, error) {
	rawID := strings.TrimSpace(os.Getenv("EXPERIMENT_ID"))
	if rawID == "" {
		return Config{}, errors.New("EXPERIMENT_ID is required")
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid EXPERIMENT_ID %q: %w", rawID, err)
	}

	cfg := Config{
		ExperimentID:  id,
		ServerBaseURL: strings.TrimRight(envOr("SERVER_BASE_URL", "http://localhost:8000"), "/"),
		SerialPort:    strings.TrimSpace(os.Getenv("SERIAL_PORT")),
		BaudRate:      envInt("BAUD_RATE", 115200),
		PollHz:        envFloat("POLL_HZ", 20),
		BatchSize:     envInt("BATCH_SIZE", 20),
		BootDelay:     2200 * time.Millisecond,
	}
	if cfg.PollHz < 1 {
		cfg.PollHz = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return cfg, nil
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

type batchFrame struct {
	Second      float64 `json:"second"`
	Temperature float64 `json:"temperature"`
	DifPressure float64 `json:"dif_pressure"`
}

type Collector struct {
	cfg    Config
	client *http.Client

	statusInterval  time.Duration
	idleRecheck     time.Duration
	exchangeTimeout time.Duration
}

func New(cfg Config) *Collector {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Collector{
		cfg:             cfg,
		client:          client,
		statusInterval:  time.Second,
		idleRecheck:     250 * time.Millisecond,
		exchangeTimeout: 800 * time.Millisecond,
	}
}

func (c *Collector) summaryURL() string {
	return fmt.Sprintf("%s/api/experiments/%d/summary", c.cfg.ServerBaseURL, c.cfg.ExperimentID)
}

func (c *Collector) ingestURL() string {
	return fmt.Sprintf("%s/api/experiments/%d/frames/batch", c.cfg.ServerBaseURL, c.cfg.ExperimentID)
}

// Run polls the device while the server reports the experiment running and
// ships batches to the ingest endpoint. It returns when ctx is canceled,
// after a best-effort flush of any pending frames.
func (c *Collector) Run(ctx context.Context) error {
	if c.cfg.SerialPort == "" {
		if err := c.resolvePort(ctx); err != nil {
			return err
		}
	}
	if c.cfg.SerialPort == "" {
		return errors.New("serial port is not configured: set SERIAL_PORT or the experiment's serial_port")
	}

	sess, err := serial.NewSession(serial.Config{
		Port:      c.cfg.SerialPort,
		Baud:      c.cfg.BaudRate,
		BootDelay: c.cfg.BootDelay,
		Open:      c.cfg.Open,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if res := sess.Exchange(ctx, protocol.CmdPing, c.exchangeTimeout); !res.Confirmed {
		log.Printf("collector: handshake not confirmed (%s), continuing anyway", res.Detail)
	}

	period := time.Duration(float64(time.Second) / c.cfg.PollHz)
	next := time.Now()

	var (
		pending   []batchFrame
		running   bool
		lastCheck time.Time
	)

	for {
		if ctx.Err() != nil {
			if len(pending) > 0 {
				c.postBatch(context.Background(), pending)
			}
			return nil
		}

		if time.Since(lastCheck) >= c.statusInterval {
			lastCheck = time.Now()
			if r, err := c.fetchRunning(ctx); err == nil {
				running = r
			}
			// On error keep the last known state; the server may be
			// restarting.
		}

		if !running {
			sleep(ctx, c.idleRecheck)
			continue
		}

		res := sess.Exchange(ctx, protocol.CmdReadAll, c.exchangeTimeout)
		if res.Confirmed && len(res.Lines) > 0 {
			if sample, ok := protocol.ParseReadAll(res.Lines[len(res.Lines)-1]); ok {
				pending = append(pending, batchFrame{
					Second:      sample.Elapsed,
					Temperature: sample.Temperature,
					DifPressure: sample.Pressure,
				})
			}
		}

		if len(pending) >= c.cfg.BatchSize {
			if err := c.postBatch(ctx, pending); err != nil {
				log.Printf("collector: batch post failed, retrying later: %v", err)
			} else {
				pending = pending[:0]
			}
		}

		next = next.Add(period)
		if d := time.Until(next); d > 0 {
			sleep(ctx, d)
		} else {
			// Lagging behind the cadence; resync instead of letting the
			// backlog run away.
			next = time.Now()
		}
	}
}

// resolvePort pulls serial_port and baud_rate from the experiment summary so
// the stand only needs EXPERIMENT_ID set locally.
func (c *Collector) resolvePort(ctx context.Context) error {
	summary, err := c.fetchSummary(ctx)
	if err != nil {
		return fmt.Errorf("resolve serial port from server: %w", err)
	}
	c.cfg.SerialPort = strings.TrimSpace(summary.Experiment.SerialPort)
	if summary.Experiment.BaudRate > 0 {
		c.cfg.BaudRate = summary.Experiment.BaudRate
	}
	return nil
}

type summaryResponse struct {
	Experiment struct {
		Status     string `json:"status"`
		SerialPort string `json:"serial_port"`
		BaudRate   int    `json:"baud_rate"`
	} `json:"experiment"`
}

func (c *Collector) fetchSummary(ctx context.Context) (*summaryResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.summaryURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("summary request returned %s", resp.Status)
	}

	var summary summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Collector) fetchRunning(ctx context.Context) (bool, error) {
	summary, err := c.fetchSummary(ctx)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(summary.Experiment.Status), "running"), nil
}

func (c *Collector) postBatch(ctx context.Context, frames []batchFrame) error {
	payload, err := json.Marshal(map[string]any{"frames": frames})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ingestURL(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest request returned %s", resp.Status)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("ingest rejected batch: %s", body.Status)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
