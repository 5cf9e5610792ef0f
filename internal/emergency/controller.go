// Package emergency owns the trading circuit breaker and the operator kill
// switch. The breaker halts new submissions after repeated broker failures;
// the kill switch is a manual override that stays engaged until an operator
// explicitly clears it. Neither touches existing positions.
package emergency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tradegate/internal/domain"
)

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // normal flow
	StateOpen                  // all new submissions vetoed
	StateHalfOpen              // exactly one trial signal allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker tunables.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker when reached within FailureWindow.
	FailureThreshold int
	// FailureWindow is the rolling window for counting consecutive failures.
	FailureWindow time.Duration
	// Cooldown is how long the breaker stays open before admitting a trial.
	Cooldown time.Duration
	// KillSwitchEngaged starts the controller with the kill switch on.
	KillSwitchEngaged bool
}

// Snapshot is a point-in-time view of the controller state for status
// endpoints and tests.
type Snapshot struct {
	Breaker             State
	ConsecutiveFailures int
	OpenedAt            time.Time
	KillSwitchEngaged   bool
	KillSwitchReason    string
}

// publisher is the slice of the event bus the controller needs.
type publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// Controller is the sole owner of breaker and kill-switch state. All
// transitions happen under one mutex; the lock is never held across I/O.
type Controller struct {
	mu  sync.Mutex
	cfg Config

	state         State
	failures      int       // consecutive failures within the window
	windowStart   time.Time // first failure of the current run
	openedAt      time.Time // when the breaker last opened
	trialInFlight bool      // a half-open trial has been admitted

	killSwitch bool
	killReason string

	bus    publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewController creates a Controller in the Closed state (or suspended, when
// cfg.KillSwitchEngaged is set). Transitions are announced on the bus.
func NewController(cfg Config, bus publisher, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:        cfg,
		state:      StateClosed,
		killSwitch: cfg.KillSwitchEngaged,
		killReason: killReasonInitial(cfg),
		bus:        bus,
		logger:     logger.With(slog.String("component", "emergency")),
		now:        time.Now,
	}
}

func killReasonInitial(cfg Config) string {
	if cfg.KillSwitchEngaged {
		return "engaged at startup by configuration"
	}
	return ""
}

// SetClock replaces the controller's time source. Useful for tests that
// exercise cooldown transitions without sleeping.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// MayProceed reports whether a new signal may enter the pipeline. While the
// kill switch is engaged it always returns false. An Open breaker whose
// cooldown has elapsed transitions to HalfOpen and admits the caller as the
// single trial; further callers are vetoed until the trial's outcome is
// recorded.
func (c *Controller) MayProceed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.killSwitch {
		return false
	}

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if c.now().Sub(c.openedAt) >= c.cfg.Cooldown {
			c.state = StateHalfOpen
			c.trialInFlight = true
			c.logger.Info("breaker half-open, admitting trial signal")
			return true
		}
		return false
	case StateHalfOpen:
		if c.trialInFlight {
			return false
		}
		c.trialInFlight = true
		return true
	default:
		return false
	}
}

// ReleaseTrial hands back an admitted half-open trial slot when the signal
// ended before reaching the broker (risk rejection, duplicate). No outcome
// exists to record: the breaker stays half-open and the next signal becomes
// the trial. Outside an in-flight half-open trial this is a no-op.
func (c *Controller) ReleaseTrial() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateHalfOpen && c.trialInFlight {
		c.trialInFlight = false
		c.logger.Info("half-open trial ended without a broker call, slot released")
	}
}

// RecordOutcome feeds an order submission outcome into the breaker. A
// success in HalfOpen closes the breaker; a failure reopens it and restarts
// the cooldown. In Closed, failures accumulate within the rolling window and
// successes reset the counter.
func (c *Controller) RecordOutcome(ctx context.Context, success bool) {
	c.mu.Lock()

	var announce domain.Event
	now := c.now()

	if success {
		switch c.state {
		case StateClosed:
			c.failures = 0
		case StateHalfOpen:
			c.state = StateClosed
			c.failures = 0
			c.trialInFlight = false
			c.logger.Info("breaker closed after successful trial")
			if !c.killSwitch {
				announce = domain.EmergencyReset{At: now}
			}
		}
		c.mu.Unlock()
		c.publish(ctx, announce)
		return
	}

	switch c.state {
	case StateClosed:
		if c.failures == 0 || now.Sub(c.windowStart) > c.cfg.FailureWindow {
			c.failures = 1
			c.windowStart = now
		} else {
			c.failures++
		}
		if c.failures >= c.cfg.FailureThreshold {
			c.state = StateOpen
			c.openedAt = now
			c.logger.Error("breaker opened",
				slog.Int("consecutive_failures", c.failures),
				slog.Duration("cooldown", c.cfg.Cooldown),
			)
			announce = domain.EmergencyStop{At: now, Reason: "consecutive order failures reached threshold"}
		}
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = now
		c.trialInFlight = false
		c.logger.Error("breaker reopened: trial signal failed")
		announce = domain.EmergencyStop{At: now, Reason: "half-open trial failed"}
	}

	c.mu.Unlock()
	c.publish(ctx, announce)
}

// EngageKillSwitch suspends all processing until ClearKillSwitch is called.
// Only explicit operator action reaches this method; no automatic event may
// engage it.
func (c *Controller) EngageKillSwitch(ctx context.Context, reason string) {
	c.mu.Lock()
	already := c.killSwitch
	c.killSwitch = true
	c.killReason = reason
	now := c.now()
	c.mu.Unlock()

	if already {
		return
	}
	c.logger.Error("kill switch engaged", slog.String("reason", reason))
	c.publish(ctx, domain.EmergencyStop{At: now, Reason: "kill switch: " + reason})
}

// ClearKillSwitch releases the manual override. The breaker keeps whatever
// state it is in: clearing the switch does not forgive failures.
func (c *Controller) ClearKillSwitch(ctx context.Context) {
	c.mu.Lock()
	engaged := c.killSwitch
	c.killSwitch = false
	c.killReason = ""
	resumed := engaged && c.state == StateClosed
	now := c.now()
	c.mu.Unlock()

	if !engaged {
		return
	}
	c.logger.Info("kill switch cleared")
	if resumed {
		c.publish(ctx, domain.EmergencyReset{At: now})
	}
}

// State returns a snapshot of the controller for observability.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Breaker:             c.state,
		ConsecutiveFailures: c.failures,
		OpenedAt:            c.openedAt,
		KillSwitchEngaged:   c.killSwitch,
		KillSwitchReason:    c.killReason,
	}
}

func (c *Controller) publish(ctx context.Context, ev domain.Event) {
	if ev == nil || c.bus == nil {
		return
	}
	c.bus.Publish(ctx, ev)
}
