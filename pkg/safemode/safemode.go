// Package safemode escalates the kernel to read-only operation after a
// run of consecutive errors and admits tool calls against that mode.
package safemode

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
	"github.com/Mindburn-Labs/autonomy-kernel/pkg/fsm"
)

// ErrSafeModeActive rejects non-read-only admission while escalated.
var ErrSafeModeActive = errors.New(contracts.ErrSafeModeActive)

const (
	DefaultErrorThreshold = 3
	DefaultCooldown       = 5 * time.Minute
)

// Controller watches the FSM error streak and forces safe mode at the
// threshold. Attach exactly one controller per machine.
type Controller struct {
	mu          sync.Mutex
	machine     *fsm.Machine
	threshold   int
	cooldown    time.Duration
	enteredAt   time.Time
	activations int

	clock  func() time.Time
	logger *slog.Logger
}

type Options struct {
	ErrorThreshold int
	Cooldown       time.Duration
}

func NewController(machine *fsm.Machine, opts Options, logger *slog.Logger) *Controller {
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = DefaultErrorThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		machine:   machine,
		threshold: opts.ErrorThreshold,
		cooldown:  opts.Cooldown,
		clock:     time.Now,
		logger:    logger,
	}
	machine.Subscribe(c.onTransition)
	return c
}

// WithClock overrides the clock for deterministic testing.
func (c *Controller) WithClock(clock func() time.Time) *Controller {
	c.clock = clock
	return c
}

func (c *Controller) onTransition(_, to fsm.State, trigger fsm.Trigger) {
	if to == fsm.StateSafeMode {
		c.mu.Lock()
		c.enteredAt = c.clock()
		c.activations++
		c.mu.Unlock()
		return
	}
	if trigger != fsm.TriggerVerificationFailed && trigger != fsm.TriggerFatalError {
		return
	}
	if c.machine.ConsecutiveErrors() < c.threshold {
		return
	}
	c.logger.Warn("escalating to safe mode",
		"consecutiveErrors", c.machine.ConsecutiveErrors(), "threshold", c.threshold)
	if err := c.machine.Fire(fsm.TriggerEscalateSafeMode); err != nil {
		c.logger.Error("safe mode escalation failed", "error", err)
	}
}

// Active reports whether the kernel is in safe mode.
func (c *Controller) Active() bool {
	return c.machine.Current() == fsm.StateSafeMode
}

// Activations counts how many times safe mode was entered.
func (c *Controller) Activations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activations
}

// Admit gates a tool call against the current mode. Only read-only
// tools pass while safe mode is active.
func (c *Controller) Admit(rc contracts.RiskClass) error {
	if !c.Active() {
		return nil
	}
	if rc == contracts.RiskReadOnly {
		return nil
	}
	return ErrSafeModeActive
}

// Exit leaves safe mode manually. The FSM clears the error streak on
// the way out.
func (c *Controller) Exit() error {
	return c.machine.Fire(fsm.TriggerExitSafeMode)
}

// MaybeAutoExit leaves safe mode once the cooldown has elapsed. Returns
// true if an exit happened.
func (c *Controller) MaybeAutoExit() bool {
	if !c.Active() {
		return false
	}
	c.mu.Lock()
	elapsed := c.clock().Sub(c.enteredAt)
	c.mu.Unlock()
	if elapsed < c.cooldown {
		return false
	}
	if err := c.Exit(); err != nil {
		c.logger.Error("safe mode auto-exit failed", "error", err)
		return false
	}
	c.logger.Info("safe mode auto-exit after cooldown", "elapsed", elapsed)
	return true
}
