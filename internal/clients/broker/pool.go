package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/scout/internal/domain"
	"github.com/aristath/scout/internal/events"
)

const (
	// DefaultAcquireTimeout bounds how long a caller waits for an idle session.
	DefaultAcquireTimeout = 30 * time.Second

	maxReconnectInterval = 2 * time.Minute
)

// PoolStatus is a non-blocking snapshot of the pool.
type PoolStatus struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Healthy   int `json:"healthy"`
}

// PoolConfig holds pool construction parameters.
type PoolConfig struct {
	Host           string
	Port           int
	MaxConnections int
	AcquireTimeout time.Duration
	EventManager   *events.Manager
	Log            zerolog.Logger
}

// Pool is a fixed-size set of broker sessions. Acquisition is FIFO-fair: the
// idle channel hands sessions out in the order they were returned, and
// blocked callers are served in arrival order. A session is owned by at most
// one caller between Acquire and Release.
type Pool struct {
	sessions       []*Session
	idle           chan *Session
	host           string
	port           int
	acquireTimeout time.Duration
	eventManager   *events.Manager
	log            zerolog.Logger

	mu           sync.Mutex
	acquired     map[int]bool
	reconnecting map[int]bool
	closed       bool
}

// NewPool builds a pool over the given sessions. Sessions are constructed by
// the caller (one per transport connection) so tests can inject stubs.
func NewPool(cfg PoolConfig, sessions []*Session) *Pool {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}

	p := &Pool{
		sessions:       sessions,
		idle:           make(chan *Session, len(sessions)),
		host:           cfg.Host,
		port:           cfg.Port,
		acquireTimeout: cfg.AcquireTimeout,
		eventManager:   cfg.EventManager,
		log:            cfg.Log.With().Str("component", "broker_pool").Logger(),
		acquired:       make(map[int]bool),
		reconnecting:   make(map[int]bool),
	}

	for _, s := range sessions {
		p.idle <- s
	}

	return p
}

// Connect establishes every session's transport connection. Sessions that
// fail to connect stay in the pool unhealthy and are lazily reconnected.
func (p *Pool) Connect() error {
	connected := 0
	for _, s := range p.sessions {
		if err := s.Connect(p.host, p.port); err != nil {
			p.log.Warn().Err(err).Int("session", s.ID()).Msg("Session failed to connect")
			continue
		}
		connected++
	}

	p.publishStatus()

	if connected == 0 {
		return fmt.Errorf("failed to connect any of %d broker sessions: %w", len(p.sessions), domain.ErrConnectionUnavailable)
	}

	p.log.Info().
		Int("connected", connected).
		Int("total", len(p.sessions)).
		Msg("Broker pool connected")
	return nil
}

// Acquire hands out an idle, healthy session. It blocks until one is
// available, the context expires, or the pool's acquire timeout elapses.
// Unhealthy sessions pulled from the idle queue are sent to reconnection
// instead of being handed out.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	deadline := time.NewTimer(p.acquireTimeout)
	defer deadline.Stop()

	for {
		select {
		case s := <-p.idle:
			if !s.Healthy() {
				p.scheduleReconnect(s)
				continue
			}
			p.mu.Lock()
			p.acquired[s.ID()] = true
			p.mu.Unlock()
			return s, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire cancelled: %w", domain.ErrConnectionUnavailable)
		case <-deadline.C:
			return nil, fmt.Errorf("acquire timed out after %s: %w", p.acquireTimeout, domain.ErrConnectionUnavailable)
		}
	}
}

// Release returns a session to the idle set. Never fails: an unhealthy
// session goes to reconnection instead of the idle queue, and releasing into
// a closed pool is a no-op.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	if !p.acquired[s.ID()] || p.closed {
		// Not checked out (double release) or pool shut down - nothing to do.
		p.mu.Unlock()
		return
	}
	delete(p.acquired, s.ID())
	p.mu.Unlock()

	if !s.Healthy() {
		p.scheduleReconnect(s)
		return
	}

	// Capacity equals session count, so this send cannot block.
	p.idle <- s
}

// Status returns a snapshot without blocking.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := PoolStatus{Total: len(p.sessions)}
	for _, s := range p.sessions {
		if s.Healthy() {
			status.Healthy++
			if !p.acquired[s.ID()] && !p.reconnecting[s.ID()] {
				status.Available++
			}
		}
	}
	return status
}

// Close disconnects every session. Acquired sessions are disconnected too;
// their in-flight requests fail with ErrBrokerFatal.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for _, s := range p.sessions {
		if err := s.Disconnect(); err != nil {
			p.log.Warn().Err(err).Int("session", s.ID()).Msg("Error disconnecting session")
		}
	}

	p.publishStatus()
	p.log.Info().Msg("Broker pool closed")
}

// scheduleReconnect starts a background reconnect loop for an unhealthy
// session, unless one is already running for it. The session rejoins the
// idle queue once reconnected.
func (p *Pool) scheduleReconnect(s *Session) {
	p.mu.Lock()
	if p.closed || p.reconnecting[s.ID()] {
		p.mu.Unlock()
		return
	}
	p.reconnecting[s.ID()] = true
	p.mu.Unlock()

	p.publishStatus()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.reconnecting, s.ID())
			closed := p.closed
			p.mu.Unlock()

			if !closed {
				p.idle <- s
				p.publishStatus()
			}
		}()

		backoffCfg := backoff.NewExponentialBackOff()
		backoffCfg.MaxInterval = maxReconnectInterval

		for {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}

			if err := s.Connect(p.host, p.port); err == nil {
				p.log.Info().Int("session", s.ID()).Msg("Session reconnected")
				return
			}

			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = maxReconnectInterval
			}
			p.log.Debug().
				Int("session", s.ID()).
				Dur("retry_in", sleep).
				Msg("Reconnect failed, backing off")
			time.Sleep(sleep)
		}
	}()
}

// publishStatus emits a BrokerStatusChanged event with the current snapshot.
func (p *Pool) publishStatus() {
	if p.eventManager == nil {
		return
	}

	status := p.Status()
	p.eventManager.EmitTyped(events.BrokerStatusChanged, "broker", &events.BrokerStatusChangedData{
		Connected:      status.Healthy > 0,
		HealthyHandles: status.Healthy,
		TotalHandles:   status.Total,
	})
}
