// Package supervisor mantiene viva la única sesión con el broker: sondea
// periódicamente y, si la sesión cae, lanza una secuencia de reconexión con
// backoff. Tras agotar los intentos queda en fallo crítico hasta reinicio manual.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/ports"
)

// Session es la parte del broker que el supervisor necesita.
type Session interface {
	Connect(ctx context.Context) error
	Probe(ctx context.Context) error
}

// Config parametriza el sondeo y la reconexión.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	Backoff       []time.Duration // espera antes de cada intento; el último se repite
	MaxAttempts   int
	StopTimeout   time.Duration
}

// DefaultConfig devuelve los valores de producción.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 10 * time.Second,
		ProbeTimeout:  5 * time.Second,
		Backoff: []time.Duration{
			5 * time.Second, 15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second,
		},
		MaxAttempts: 5,
		StopTimeout: 5 * time.Second,
	}
}

// State es un snapshot no bloqueante del estado de conexión.
type State struct {
	Connected    bool `json:"connected"`
	Attempts     int  `json:"reconnect_attempts"`
	MaxAttempts  int  `json:"max_attempts"`
	Reconnecting bool `json:"reconnecting"`
	Critical     bool `json:"critical"`
}

// Supervisor es el dueño del estado de conexión.
type Supervisor struct {
	cfg      Config
	session  Session
	notifier ports.Notifier

	mu        sync.Mutex
	connected bool
	attempts  int
	critical  bool
	restored  chan struct{} // se cierra al pasar a conectado
	running   bool
	cancel    context.CancelFunc

	reconnecting atomic.Bool
	fatal        chan struct{}
	fatalOnce    sync.Once
	wg           sync.WaitGroup
}

// New crea un supervisor desconectado. notifier puede ser nil.
func New(cfg Config, session Session, notifier ports.Notifier) *Supervisor {
	def := DefaultConfig()
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	return &Supervisor{
		cfg:      cfg,
		session:  session,
		notifier: notifier,
		restored: make(chan struct{}),
		fatal:    make(chan struct{}),
	}
}

// Connect abre la sesión inicial. No cuenta como intento de reconexión.
func (s *Supervisor) Connect(ctx context.Context) error {
	if err := s.session.Connect(ctx); err != nil {
		return fmt.Errorf("supervisor.Connect: %w", err)
	}
	s.markConnected()
	return nil
}

// Start lanza el sondeo periódico. Idempotente.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if s.critical {
		slog.Warn("supervisor: not starting, connection is in critical failure")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.probeLoop(ctx)
	}()
	slog.Info("supervisor started",
		"probe_interval", s.cfg.ProbeInterval,
		"max_attempts", s.cfg.MaxAttempts,
	)
}

// Stop cancela el sondeo y cualquier reconexión en curso y espera a que
// terminen, como mucho StopTimeout.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("supervisor stopped")
	case <-time.After(s.cfg.StopTimeout):
		slog.Warn("supervisor: stop timed out waiting for background work", "timeout", s.cfg.StopTimeout)
	}
}

// IsConnected es un snapshot no bloqueante.
func (s *Supervisor) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Attempts devuelve los intentos de reconexión consecutivos fallidos.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Connected:    s.connected,
		Attempts:     s.attempts,
		MaxAttempts:  s.cfg.MaxAttempts,
		Reconnecting: s.reconnecting.Load(),
		Critical:     s.critical,
	}
}

// Fatal se cierra cuando se agotan los intentos de reconexión.
func (s *Supervisor) Fatal() <-chan struct{} {
	return s.fatal
}

// WaitForRestoration bloquea hasta que la sesión vuelva o venza timeout.
// Devuelve false también en fallo crítico o si ctx se cancela.
func (s *Supervisor) WaitForRestoration(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.connected {
			s.mu.Unlock()
			return true
		}
		if s.critical {
			s.mu.Unlock()
			return false
		}
		restored := s.restored
		s.mu.Unlock()

		select {
		case <-restored:
		case <-s.fatal:
			return false
		case <-timer.C:
			return s.IsConnected()
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Supervisor) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

func (s *Supervisor) probeOnce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	err := s.session.Probe(pctx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		s.markConnected()
		return
	}

	if s.markDisconnected() {
		slog.Warn("supervisor: probe failed, connection lost", "err", err)
	} else {
		slog.Debug("supervisor: probe failed while disconnected", "err", err)
	}
	s.triggerReconnect(ctx)
}

// triggerReconnect arranca la secuencia de reconexión salvo que ya haya una.
func (s *Supervisor) triggerReconnect(ctx context.Context) {
	s.mu.Lock()
	critical := s.critical
	s.mu.Unlock()
	if critical || !s.reconnecting.CompareAndSwap(false, true) {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.reconnecting.Store(false)
		s.reconnect(ctx)
	}()
}

func (s *Supervisor) reconnect(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.IsConnected() {
			return
		}

		attempts := s.Attempts()
		wait := s.cfg.Backoff[min(attempts, len(s.cfg.Backoff)-1)]
		s.emit(ctx, domain.NewStatus(domain.ComponentBroker, domain.StatusReconnecting,
			fmt.Sprintf("reconnect attempt %d/%d in %s", attempts+1, s.cfg.MaxAttempts, wait)))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if s.IsConnected() {
			return
		}

		err := s.session.Connect(ctx)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.attempts++
		attempts = s.attempts
		s.mu.Unlock()

		if err == nil {
			slog.Info("supervisor: reconnected", "attempts", attempts)
			s.markConnected()
			return
		}

		slog.Warn("supervisor: reconnect attempt failed",
			"attempt", attempts,
			"max_attempts", s.cfg.MaxAttempts,
			"err", err,
		)
		if attempts >= s.cfg.MaxAttempts {
			s.fail(ctx)
			return
		}
	}
}

// markConnected resetea los intentos y despierta a quien espera la restauración.
func (s *Supervisor) markConnected() {
	s.mu.Lock()
	was := s.connected
	if !s.critical {
		s.attempts = 0
	}
	if !was && !s.critical {
		s.connected = true
		close(s.restored)
	}
	now := s.connected
	s.mu.Unlock()

	if !was && now {
		s.emit(context.Background(), domain.NewStatus(domain.ComponentBroker, domain.StatusConnected, "broker session up"))
	}
}

// markDisconnected devuelve true si hubo transición conectado → desconectado.
func (s *Supervisor) markDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false
	}
	s.connected = false
	s.restored = make(chan struct{})
	return true
}

// fail es terminal: corta el sondeo y publica el estado crítico.
func (s *Supervisor) fail(ctx context.Context) {
	s.mu.Lock()
	s.critical = true
	s.connected = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.fatalOnce.Do(func() { close(s.fatal) })
	slog.Error("supervisor: reconnection attempts exhausted, operator intervention required",
		"max_attempts", s.cfg.MaxAttempts)
	s.emit(context.WithoutCancel(ctx), domain.NewStatus(domain.ComponentBroker, domain.StatusCritical,
		fmt.Sprintf("reconnection failed after %d attempts", s.cfg.MaxAttempts)))
}

func (s *Supervisor) emit(ctx context.Context, ev domain.StatusEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyStatus(ctx, ev); err != nil {
		slog.Warn("supervisor: notify status failed", "err", err)
	}
}
