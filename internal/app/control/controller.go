// Package control implements the experiment lifecycle: hardware-gated
// transitions that commit only after the microcontroller confirms the
// command, and administrative transitions that are operator-declared.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/b0gdan00/Aspirantura-research/internal/adapters/serial"
	"github.com/b0gdan00/Aspirantura-research/internal/app/poll"
	"github.com/b0gdan00/Aspirantura-research/internal/domain"
	"github.com/b0gdan00/Aspirantura-research/internal/ports"
	"github.com/b0gdan00/Aspirantura-research/internal/protocol"
)

var (
	ErrNoSerialPort  = errors.New("experiment serial port is not configured")
	ErrTerminalState = errors.New("experiment is in a terminal state")
)

// DeviceError carries the unconfirmed exchange so callers can surface the
// device's response lines.
type DeviceError struct {
	Result serial.Result
}

func (e *DeviceError) Error() string {
	if e.Result.Detail != "" {
		return fmt.Sprintf("device command failed: %s", e.Result.Detail)
	}
	return "device command failed"
}

// Outcome reports a committed transition together with the device exchange
// that gated it (Lines is nil for administrative transitions).
type Outcome struct {
	Experiment *domain.Experiment
	Confirmed  bool
	Lines      []string
}

type Controller struct {
	store    ports.ExperimentStore
	sessions *serial.Registry
	pollers  *poll.Registry
	now      func() time.Time

	commandTimeout time.Duration
	pingTimeout    time.Duration
}

func NewController(store ports.ExperimentStore, sessions *serial.Registry, pollers *poll.Registry) *Controller {
	return &Controller{
		store:          store,
		sessions:       sessions,
		pollers:        pollers,
		now:            time.Now,
		commandTimeout: 2500 * time.Millisecond,
		pingTimeout:    1500 * time.Millisecond,
	}
}

// Start transitions the experiment to running once the device confirms START.
func (c *Controller) Start(ctx context.Context, id int64) (*Outcome, error) {
	return c.gated(ctx, id, protocol.CmdStart, func(exp *domain.Experiment, now time.Time) {
		if exp.StartedAt == nil {
			exp.StartedAt = &now
		}
		exp.Status = domain.StatusRunning
	})
}

// Ignite is the trigger transition. It sends START on the wire until the
// firmware protocol grows a dedicated ignition command.
func (c *Controller) Ignite(ctx context.Context, id int64) (*Outcome, error) {
	return c.gated(ctx, id, protocol.CmdStart, func(exp *domain.Experiment, now time.Time) {
		if exp.IgnitedAt == nil {
			exp.IgnitedAt = &now
		}
		if exp.StartedAt == nil {
			exp.StartedAt = &now
		}
		exp.Status = domain.StatusRunning
	})
}

// Stop transitions to aborted once the device confirms STOP.
func (c *Controller) Stop(ctx context.Context, id int64) (*Outcome, error) {
	return c.gated(ctx, id, protocol.CmdStop, func(exp *domain.Experiment, now time.Time) {
		if exp.EndedAt == nil {
			exp.EndedAt = &now
		}
		exp.Status = domain.StatusAborted
	})
}

// gated runs the confirm-then-commit pattern: the store is only touched after
// a confirmed exchange, so an unconfirmed command leaves the record unchanged.
func (c *Controller) gated(ctx context.Context, id int64, wireCmd string,
	commit func(*domain.Experiment, time.Time)) (*Outcome, error) {

	exp, err := c.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status.Terminal() {
		return nil, ErrTerminalState
	}
	if exp.SerialPort == "" {
		return nil, ErrNoSerialPort
	}

	sess, err := c.sessions.Get(exp.SerialPort, exp.BaudRate)
	if err != nil {
		return nil, err
	}

	res := sess.Exchange(ctx, wireCmd, c.commandTimeout)
	if !res.Confirmed {
		return nil, &DeviceError{Result: res}
	}

	commit(exp, c.now().UTC())
	if err := c.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}

	if exp.Status == domain.StatusRunning {
		c.pollers.EnsureRunning(exp)
	} else {
		c.pollers.Stop(exp.ID)
	}

	return &Outcome{Experiment: exp, Confirmed: true, Lines: res.Lines}, nil
}

// Finish is the administrative end of an experiment; it is not gated on
// hardware confirmation.
func (c *Controller) Finish(ctx context.Context, id int64) (*Outcome, error) {
	return c.administrative(ctx, id, domain.StatusFinished)
}

// Abort is the administrative abort; like Finish it always commits.
func (c *Controller) Abort(ctx context.Context, id int64) (*Outcome, error) {
	return c.administrative(ctx, id, domain.StatusAborted)
}

func (c *Controller) administrative(ctx context.Context, id int64, status domain.Status) (*Outcome, error) {
	exp, err := c.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status.Terminal() {
		return nil, ErrTerminalState
	}

	now := c.now().UTC()
	if exp.EndedAt == nil {
		exp.EndedAt = &now
	}
	exp.Status = status
	if err := c.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}

	c.pollers.Stop(exp.ID)
	return &Outcome{Experiment: exp}, nil
}

// TestConnection issues a PING and reports the exchange without touching the
// experiment record.
func (c *Controller) TestConnection(ctx context.Context, id int64) (*Outcome, error) {
	exp, err := c.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.SerialPort == "" {
		return nil, ErrNoSerialPort
	}

	sess, err := c.sessions.Get(exp.SerialPort, exp.BaudRate)
	if err != nil {
		return nil, err
	}

	res := sess.Exchange(ctx, protocol.CmdPing, c.pingTimeout)
	if !res.Confirmed {
		return nil, &DeviceError{Result: res}
	}
	return &Outcome{Experiment: exp, Confirmed: true, Lines: res.Lines}, nil
}
