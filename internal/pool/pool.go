// Package pool maintains a bounded set of warm sessions for fast
// acquisition (spec §4.9): placeholder-reservation creation, event-driven
// warmup, a hybrid health-check loop, and a create-failure circuit breaker.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/casepot/sies/internal/ids"
	"github.com/casepot/sies/internal/launcher"
	"github.com/casepot/sies/internal/logger"
	"github.com/casepot/sies/internal/metrics"
	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/schedule"
	"github.com/casepot/sies/internal/session"
)

// ErrCreateBackoff is returned by Acquire while the circuit breaker is
// open: recent session creations have failed repeatedly and the pool is
// in its cooldown window.
var ErrCreateBackoff = errors.New("pool: create circuit open, in cooldown")

// ErrAcquireTimeout is returned by Acquire when deadline elapses before a
// session becomes available.
var ErrAcquireTimeout = errors.New("pool: acquire timed out")

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool: closed")

// Config bundles the pool's watermark and health-check tunables (spec
// §4.9, §6.2).
type Config struct {
	MinIdle            int
	MaxSessions        int
	MaxInFlightCreates int

	HealthCheckInterval string // cron "@every" spec, e.g. "@every 30s"

	CircuitFailureThreshold int
	CircuitCooldown         time.Duration

	Launcher      launcher.Launcher
	LaunchConfig  launcher.Config
	Encoding      protocol.Encoding
	SessionConfig session.Config
	Interceptors  []session.Interceptor
}

func (c Config) withDefaults() Config {
	if c.MinIdle < 0 {
		c.MinIdle = 0
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 10
	}
	if c.MaxInFlightCreates <= 0 {
		c.MaxInFlightCreates = 4
	}
	if c.HealthCheckInterval == "" {
		c.HealthCheckInterval = "@every 30s"
	}
	if c.CircuitFailureThreshold <= 0 {
		c.CircuitFailureThreshold = 5
	}
	if c.CircuitCooldown <= 0 {
		c.CircuitCooldown = 30 * time.Second
	}
	return c
}

// slot tracks one entry in the pool's bookkeeping: either a reserved
// placeholder awaiting creation, or a live session.
type slot struct {
	id          string
	s           *session.Session
	placeholder bool
}

// Pool maintains all/idle/in_use session sets under a single mutex, never
// held across session-creation I/O (spec §4.9 invariant).
type Pool struct {
	config Config

	mu              sync.Mutex
	all             map[string]*slot
	idle            []string
	inUse           map[string]bool
	inFlightCreates int
	closed          bool

	watermarkCond *sync.Cond

	// circuit breaker: a single-token rate.Limiter gates "may we attempt a
	// create now" — it naturally expresses fail-fast-for-the-cooldown,
	// then-allow-one-probe, grounded on the teacher's internal/auth
	// RateLimiter use of x/time/rate.
	circuitMu      sync.Mutex
	consecFailures int
	breaker        *rate.Limiter

	healthTrigger chan struct{}
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// New constructs a Pool. It does not start the warmup/health-check loops;
// call Start for that.
func New(config Config) *Pool {
	config = config.withDefaults()
	p := &Pool{
		config:        config,
		all:           make(map[string]*slot),
		inUse:         make(map[string]bool),
		healthTrigger: make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	p.watermarkCond = sync.NewCond(&p.mu)
	return p
}

// Start launches the warmup and health-check background loops.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.warmupLoop(ctx)
	go p.healthCheckLoop(ctx)
	p.signalWatermark()
}

// Close tears down every session and stops the background loops.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	slots := make([]*slot, 0, len(p.all))
	for _, sl := range p.all {
		slots = append(slots, sl)
	}
	p.all = make(map[string]*slot)
	p.idle = nil
	p.inUse = make(map[string]bool)
	p.mu.Unlock()

	close(p.stopCh)
	p.watermarkCond.Broadcast()
	p.wg.Wait()

	for _, sl := range slots {
		if sl.s != nil {
			_ = sl.s.Shutdown()
		}
	}
}

// Acquire returns a healthy idle session, creating one if needed, subject
// to MaxSessions and the circuit breaker. It blocks (up to deadline) on the
// watermark-violation signal if creation is already at its in-flight cap.
func (p *Pool) Acquire(ctx context.Context, deadline time.Time) (*session.Session, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		if len(p.idle) > 0 {
			id := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.inUse[id] = true
			sl := p.all[id]
			p.mu.Unlock()
			metrics.SetPoolBuckets(len(p.idle), len(p.inUse), len(p.all))
			return sl.s, nil
		}

		if len(p.all) >= p.config.MaxSessions {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: at max sessions (%d)", p.config.MaxSessions)
		}

		if p.inFlightCreates >= p.config.MaxInFlightCreates {
			// Wait on the watermark-violation signal rather than polling.
			waitDone := make(chan struct{})
			go func() {
				p.watermarkCond.L.Lock()
				p.watermarkCond.Wait()
				p.watermarkCond.L.Unlock()
				close(waitDone)
			}()
			p.mu.Unlock()

			select {
			case <-waitDone:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Until(deadline)):
				return nil, ErrAcquireTimeout
			}
		}

		// Placeholder-reservation: reserve a slot under the lock with a
		// synthetic ID, release the lock, create outside the lock, then
		// swap the placeholder for the real entry.
		placeholderID := "placeholder:" + ids.New()
		p.all[placeholderID] = &slot{id: placeholderID, placeholder: true}
		p.inFlightCreates++
		p.mu.Unlock()

		s, err := p.createSession(ctx)

		p.mu.Lock()
		delete(p.all, placeholderID)
		p.inFlightCreates--
		if err != nil {
			p.mu.Unlock()
			p.recordCreateFailure()
			return nil, err
		}
		p.recordCreateSuccess()

		realSlot := &slot{id: s.ID(), s: s}
		p.all[realSlot.id] = realSlot
		p.inUse[realSlot.id] = true
		p.mu.Unlock()
		metrics.SetPoolBuckets(len(p.idle), len(p.inUse), len(p.all))
		return s, nil
	}
}

// Release returns s to the idle set if it is healthy and ready, otherwise
// terminates and drops it. Signals the warmup loop if idle falls below
// MinIdle.
func (p *Pool) Release(s *session.Session) {
	healthy := s.State() == session.StateReady

	p.mu.Lock()
	delete(p.inUse, s.ID())
	if !healthy {
		delete(p.all, s.ID())
		p.mu.Unlock()
		_ = s.Shutdown()
		p.signalWatermark()
		return
	}
	p.idle = append(p.idle, s.ID())
	belowWatermark := len(p.idle) < p.config.MinIdle
	p.mu.Unlock()
	metrics.SetPoolBuckets(len(p.idle), len(p.inUse), len(p.all))

	if belowWatermark {
		p.signalWatermark()
	}
}

func (p *Pool) signalWatermark() {
	select {
	case p.healthTrigger <- struct{}{}:
	default:
	}
	p.watermarkCond.Broadcast()
}

// createSession obtains the circuit breaker's permission, then launches
// and starts a new session. Never called with the pool's lock held.
func (p *Pool) createSession(ctx context.Context) (*session.Session, error) {
	if !p.breakerAllows() {
		return nil, ErrCreateBackoff
	}

	s := session.New(ids.New(), p.config.Interceptors, p.config.SessionConfig)
	if err := s.Start(ctx, p.config.Launcher, p.config.LaunchConfig, p.config.Encoding); err != nil {
		return nil, fmt.Errorf("pool: create session: %w", err)
	}
	return s, nil
}

func (p *Pool) breakerAllows() bool {
	p.circuitMu.Lock()
	defer p.circuitMu.Unlock()
	if p.breaker == nil {
		return true
	}
	return p.breaker.Allow()
}

func (p *Pool) recordCreateFailure() {
	metrics.PoolCreateFailuresTotal.Inc()

	p.circuitMu.Lock()
	defer p.circuitMu.Unlock()
	p.consecFailures++
	if p.consecFailures >= p.config.CircuitFailureThreshold && p.breaker == nil {
		// One token, refilling once per cooldown window: fail fast for
		// the cooldown, then allow exactly one probe create.
		p.breaker = rate.NewLimiter(rate.Every(p.config.CircuitCooldown), 1)
		p.breaker.Allow() // consume the initial burst token
		metrics.PoolCircuitOpen.Set(1)
		logger.Warn("pool: circuit breaker opened after %d consecutive create failures", p.consecFailures)
	}
}

func (p *Pool) recordCreateSuccess() {
	p.circuitMu.Lock()
	defer p.circuitMu.Unlock()
	p.consecFailures = 0
	if p.breaker != nil {
		p.breaker = nil
		metrics.PoolCircuitOpen.Set(0)
	}
}

// warmupLoop blocks on the watermark-violation signal and creates sessions
// up to MinIdle whenever signaled, without polling; when a round creates
// nothing it blocks again until the next signal.
func (p *Pool) warmupLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for !p.closed && len(p.idle) >= p.config.MinIdle {
			p.watermarkCond.Wait()
		}
		closed := p.closed
		need := p.config.MinIdle - len(p.idle)
		p.mu.Unlock()
		if closed {
			return
		}

		made := false
		for i := 0; i < need; i++ {
			p.mu.Lock()
			if p.closed || len(p.all) >= p.config.MaxSessions || p.inFlightCreates >= p.config.MaxInFlightCreates {
				p.mu.Unlock()
				break
			}
			placeholderID := "placeholder:" + ids.New()
			p.all[placeholderID] = &slot{id: placeholderID, placeholder: true}
			p.inFlightCreates++
			p.mu.Unlock()

			s, err := p.createSession(ctx)

			p.mu.Lock()
			delete(p.all, placeholderID)
			p.inFlightCreates--
			if err != nil {
				p.mu.Unlock()
				p.recordCreateFailure()
				continue
			}
			p.recordCreateSuccess()
			realSlot := &slot{id: s.ID(), s: s}
			p.all[realSlot.id] = realSlot
			p.idle = append(p.idle, realSlot.id)
			made = true
			p.mu.Unlock()
			metrics.SetPoolBuckets(len(p.idle), len(p.inUse), len(p.all))
		}

		// Nothing could be created (caps reached or every attempt failed):
		// block until the next signal instead of retrying at once.
		if !made {
			p.mu.Lock()
			if !p.closed {
				p.watermarkCond.Wait()
			}
			p.mu.Unlock()
		}
	}
}

// healthCheckLoop wakes on a baseline cron-driven interval AND on explicit
// triggers (e.g. Release() noticing an unhealthy session), removing
// unhealthy sessions from both sets.
func (p *Pool) healthCheckLoop(ctx context.Context) {
	defer p.wg.Done()

	sched, err := schedule.ParseCron(p.config.HealthCheckInterval)
	if err != nil {
		logger.Error("pool: invalid health-check interval %q: %v", p.config.HealthCheckInterval, err)
		return
	}

	next := sched.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-p.healthTrigger:
			p.sweepUnhealthy()
		case <-timer.C:
			p.sweepUnhealthy()
			next = sched.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

func (p *Pool) sweepUnhealthy() {
	p.mu.Lock()
	var stillIdle []string
	var toDrop []*session.Session
	for _, id := range p.idle {
		sl, ok := p.all[id]
		if !ok {
			continue
		}
		if sl.s.State() == session.StateReady {
			stillIdle = append(stillIdle, id)
		} else {
			delete(p.all, id)
			toDrop = append(toDrop, sl.s)
		}
	}
	p.idle = stillIdle
	p.mu.Unlock()

	for _, s := range toDrop {
		_ = s.Shutdown()
	}
	if len(toDrop) > 0 {
		p.signalWatermark()
	}
}
