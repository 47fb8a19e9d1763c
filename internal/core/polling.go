package core

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/teracrafts/flagkit-go/types"
)

// PollFunc fetches flag updates. A non-nil error counts as a failed cycle.
type PollFunc func() error

// PollerConfig tunes the polling schedule.
type PollerConfig struct {
	BaseInterval      time.Duration
	Jitter            time.Duration
	BackoffMultiplier float64
	MaxInterval       time.Duration
}

// DefaultPollerConfig fills the schedule defaults around a base interval.
func DefaultPollerConfig(baseInterval time.Duration) PollerConfig {
	return PollerConfig{
		BaseInterval:      baseInterval,
		Jitter:            1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxInterval:       5 * time.Minute,
	}
}

// Poller runs a background polling loop. Each failed cycle multiplies the
// current interval by the backoff multiplier, capped at MaxInterval; the
// first success snaps it back to the base interval. The first poll gets a
// uniform random jitter so a fleet of restarting clients spreads out.
type Poller struct {
	cfg     PollerConfig
	poll    PollFunc
	logger  types.Logger
	onError func(error)

	mu       sync.Mutex
	running  bool
	current  time.Duration
	failures int
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewPoller creates a poller. onError may be nil.
func NewPoller(cfg PollerConfig, poll PollFunc, logger types.Logger, onError func(error)) *Poller {
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Minute
	}
	if cfg.MaxInterval < cfg.BaseInterval {
		cfg.MaxInterval = cfg.BaseInterval
	}

	return &Poller{
		cfg:     cfg,
		poll:    poll,
		logger:  logger,
		onError: onError,
		current: cfg.BaseInterval,
	}
}

// Start launches the polling loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.failures = 0
	p.current = p.cfg.BaseInterval
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.loop(p.stopCh, p.doneCh)

	if p.logger != nil {
		p.logger.Debug("Polling started", "interval", p.cfg.BaseInterval.String())
	}
}

// Stop signals the loop to exit without waiting for it.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)

	if p.logger != nil {
		p.logger.Debug("Polling stopped")
	}
}

// Shutdown stops the loop and waits up to timeout for the in-flight cycle
// to finish. Returns false if the wait timed out.
func (p *Poller) Shutdown(timeout time.Duration) bool {
	p.mu.Lock()
	done := p.doneCh
	p.stopLocked()
	p.mu.Unlock()

	if done == nil {
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		if p.logger != nil {
			p.logger.Warn("Polling shutdown timed out waiting for in-flight cycle")
		}
		return false
	}
}

// IsRunning reports whether the loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SetBaseInterval changes the base interval. The current interval follows
// unless a backoff is in progress.
func (p *Poller) SetBaseInterval(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cfg.BaseInterval = interval
	if p.cfg.MaxInterval < interval {
		p.cfg.MaxInterval = interval
	}
	if p.failures == 0 {
		p.current = interval
	}
}

// BaseInterval returns the configured base interval.
func (p *Poller) BaseInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.BaseInterval
}

// CurrentInterval returns the interval in effect for the next cycle.
func (p *Poller) CurrentInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// PollNow runs one poll out of band. Scheduling is unaffected but the
// outcome feeds the backoff state like a scheduled cycle.
func (p *Poller) PollNow() {
	p.runCycle()
}

func (p *Poller) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	delay := p.firstDelay()
	for {
		select {
		case <-stopCh:
			return
		case <-time.After(delay):
		}

		select {
		case <-stopCh:
			return
		default:
		}

		p.runCycle()

		p.mu.Lock()
		delay = p.current
		p.mu.Unlock()
	}
}

// firstDelay is the base interval plus uniform startup jitter.
func (p *Poller) firstDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.current
	if p.cfg.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.cfg.Jitter)))
	}
	return delay
}

// runCycle executes one poll with panic containment. A panicking poll
// callback must not kill the loop.
func (p *Poller) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.Error("Panic in polling cycle", "panic", r)
			}
			p.recordFailure(fmt.Errorf("panic in polling cycle: %v", r))
		}
	}()

	if err := p.poll(); err != nil {
		p.recordFailure(err)
		return
	}
	p.recordSuccess()
}

func (p *Poller) recordSuccess() {
	p.mu.Lock()
	p.failures = 0
	p.current = p.cfg.BaseInterval
	p.mu.Unlock()
}

func (p *Poller) recordFailure(err error) {
	p.mu.Lock()
	p.failures++
	failures := p.failures

	next := time.Duration(float64(p.current) * p.cfg.BackoffMultiplier)
	if next > p.cfg.MaxInterval {
		next = p.cfg.MaxInterval
	}
	p.current = next
	interval := p.current
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Warn("Polling cycle failed",
			"consecutive_failures", failures,
			"next_interval", interval.String(),
			"error", err.Error(),
		)
	}
	if p.onError != nil {
		p.onError(err)
	}
}
