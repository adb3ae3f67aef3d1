package voice

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/metrics"
)

// ErrRestartsExhausted is returned by Run when the consecutive failure
// budget is spent. The supervisor does not restart on its own after this.
var ErrRestartsExhausted = errors.New("voice: restart attempts exhausted")

// SupervisorConfig carries the reconnect policy.
type SupervisorConfig struct {
	MaxAttempts  int
	CooldownBase time.Duration
	CooldownCap  time.Duration
}

// Supervisor owns the voice connection lifecycle: it is the only component
// that connects, reconnects, and backs off. Everyone else just asks
// Connected().
type Supervisor struct {
	cfg       SupervisorConfig
	transport Transport

	state    atomic.Int32
	attempts int

	// drops receives one value per unexpected disconnect.
	drops chan error

	// sleep is injectable so backoff tests run without real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(cfg SupervisorConfig, transport Transport) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = time.Second
	}
	if cfg.CooldownCap <= 0 {
		cfg.CooldownCap = 30 * time.Second
	}
	s := &Supervisor{
		cfg:       cfg,
		transport: transport,
		drops:     make(chan error, 4),
		sleep:     sleepCtx,
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Connected reports whether audio should flow right now.
func (s *Supervisor) Connected() bool {
	return s.State() == StateConnected
}

// NotifyDisconnect is called by the transport handler when the connection
// drops unexpectedly. Safe to call from any goroutine; never blocks.
func (s *Supervisor) NotifyDisconnect(err error) {
	select {
	case s.drops <- err:
	default:
	}
}

// Run drives the connect/backoff loop until ctx is cancelled or the attempt
// budget is exhausted. Exhaustion is terminal: Run returns
// ErrRestartsExhausted and the state stays StateExhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.state.Store(int32(StateConnecting))
		err := s.transport.Connect()
		if err == nil {
			s.attempts = 0
			s.state.Store(int32(StateConnected))
			logging.Infow("voice connection established")

			select {
			case <-ctx.Done():
				s.state.Store(int32(StateDisconnected))
				return s.transport.Disconnect()
			case dropErr := <-s.drops:
				logging.Warnw("voice connection dropped", "err", dropErr)
			}
		} else {
			logging.Warnw("voice connect failed", "err", err)
		}

		s.attempts++
		metrics.Reconnects.Inc()
		if s.attempts >= s.cfg.MaxAttempts {
			s.state.Store(int32(StateExhausted))
			logging.Errorw("giving up on voice connection", "attempts", s.attempts)
			return ErrRestartsExhausted
		}

		cooldown := s.cooldown(s.attempts)
		s.state.Store(int32(StateBackingOff))
		logging.Infow("backing off before reconnect", "attempt", s.attempts, "cooldown_s", cooldown.Seconds())
		if err := s.sleep(ctx, cooldown); err != nil {
			s.state.Store(int32(StateDisconnected))
			return nil
		}
	}
}

// cooldown computes base * 2^(attempt-1), capped.
func (s *Supervisor) cooldown(attempt int) time.Duration {
	d := s.cfg.CooldownBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.CooldownCap {
			return s.cfg.CooldownCap
		}
	}
	if d > s.cfg.CooldownCap {
		return s.cfg.CooldownCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
