// Package executor serializa la ejecución de trades: un único worker consume
// la cola, resuelve el activo, pide la entrada a la política de staking,
// coloca la orden, espera la liquidación y evalúa los stops globales.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/domain/staking"
	"github.com/alejandrodnm/binbot/internal/ports"
	"github.com/shopspring/decimal"
)

// AssetResolver traduce el activo de la señal al instrumento abierto.
type AssetResolver interface {
	Resolve(ctx context.Context, signalAsset string, expiryMinutes int) (domain.ResolvedAsset, error)
}

// Connectivity es la vista del supervisor de conexión que usa el executor.
type Connectivity interface {
	IsConnected() bool
	WaitForRestoration(ctx context.Context, timeout time.Duration) bool
	Fatal() <-chan struct{}
}

// Blackouts informa si un activo está bloqueado por noticias.
type Blackouts interface {
	Blocked(asset string, at time.Time) (domain.NewsEvent, bool)
}

// Config contiene los tiempos del executor.
type Config struct {
	QueueSize       int
	AckTimeout      time.Duration // espera máxima a la confirmación de la orden
	PollInterval    time.Duration
	SettlementGrace time.Duration // se suma a la expiración para el timeout de liquidación
	RestoreCeiling  time.Duration // espera total por reconexión dentro de un paso
	IdleWait        time.Duration
	ExpiryUnit      time.Duration // duración real de un minuto de expiración
}

// DefaultConfig devuelve los valores de producción.
func DefaultConfig() Config {
	return Config{
		QueueSize:       64,
		AckTimeout:      10 * time.Second,
		PollInterval:    time.Second,
		SettlementGrace: 30 * time.Second,
		RestoreCeiling:  3 * time.Minute,
		IdleWait:        500 * time.Millisecond,
		ExpiryUnit:      time.Minute,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.SettlementGrace < 0 {
		c.SettlementGrace = def.SettlementGrace
	}
	if c.RestoreCeiling <= 0 {
		c.RestoreCeiling = def.RestoreCeiling
	}
	if c.IdleWait <= 0 {
		c.IdleWait = def.IdleWait
	}
	if c.ExpiryUnit <= 0 {
		c.ExpiryUnit = def.ExpiryUnit
	}
}

// EngineState es el estado global del motor. Solo se modifica bajo Executor.mu.
type EngineState struct {
	SessionID  string
	Running    bool
	Paused     bool
	StopReason domain.StopReason
	StartedAt  time.Time
}

type queued struct {
	req        domain.TradeRequest
	key        string
	enqueuedAt time.Time
}

// Executor es el orquestador de trades.
type Executor struct {
	cfg      Config
	broker   ports.Broker
	resolver AssetResolver
	conn     Connectivity
	news     Blackouts
	notifier ports.Notifier
	storage  ports.TradeStorage

	queue chan queued
	wake  chan struct{}

	mu            sync.Mutex
	state         EngineState
	policy        staking.Policy
	stops         domain.StopConditions
	defaultPayout decimal.Decimal
	ledger        domain.Ledger
	busy          map[string]struct{}

	closed  atomic.Bool
	started atomic.Bool
	quit    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// Deps agrupa los colaboradores del executor. News y Storage son opcionales.
type Deps struct {
	Broker   ports.Broker
	Resolver AssetResolver
	Conn     Connectivity
	News     Blackouts
	Notifier ports.Notifier
	Storage  ports.TradeStorage
}

// New crea un executor parado; hace falta Start y StartSession para operar.
func New(cfg Config, deps Deps) *Executor {
	cfg.setDefaults()
	return &Executor{
		cfg:      cfg,
		broker:   deps.Broker,
		resolver: deps.Resolver,
		conn:     deps.Conn,
		news:     deps.News,
		notifier: deps.Notifier,
		storage:  deps.Storage,
		queue:    make(chan queued, cfg.QueueSize),
		wake:     make(chan struct{}, 1),
		busy:     make(map[string]struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Submit encola una petición sin bloquear. Se rechaza si el motor no está
// corriendo, si la cola está llena o si el activo ya tiene una cadena activa.
func (e *Executor) Submit(req domain.TradeRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("executor.Submit: %w", err)
	}
	if e.closed.Load() {
		return fmt.Errorf("executor.Submit: %w", domain.ErrEngineNotRunning)
	}

	key := domain.AssetKey(req.SignalAsset)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Running {
		slog.Warn("executor: request rejected, engine not running", "asset", req.SignalAsset)
		return fmt.Errorf("executor.Submit: %w", domain.ErrEngineNotRunning)
	}
	if _, busy := e.busy[key]; busy {
		slog.Warn("executor: request rejected, asset busy", "asset", req.SignalAsset, "key", key)
		return fmt.Errorf("executor.Submit: %s: %w", req.SignalAsset, domain.ErrAssetBusy)
	}

	select {
	case e.queue <- queued{req: req, key: key, enqueuedAt: time.Now()}:
	default:
		slog.Warn("executor: request rejected, queue full", "asset", req.SignalAsset, "size", cap(e.queue))
		return fmt.Errorf("executor.Submit: %w", domain.ErrQueueFull)
	}
	e.busy[key] = struct{}{}

	slog.Info("executor: request queued",
		"asset", req.SignalAsset,
		"direction", req.Direction,
		"expiry", req.ExpiryMinutes,
		"queue_depth", len(e.queue),
	)
	return nil
}

// Start lanza el worker. Idempotente.
func (e *Executor) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	// solo Shutdown detiene el worker: cancelar ctx no corta la cadena en curso
	ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer close(e.done)
		e.run(ctx)
	}()
	slog.Info("executor started", "queue_size", cap(e.queue))
}

// Shutdown deja de aceptar peticiones, para la sesión y espera a que termine
// el paso en curso. Si ctx vence antes, la espera de liquidación se abandona
// registrando una pérdida asumida.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.closed.Store(true)
	e.halt(context.WithoutCancel(ctx), domain.StopShutdown, "shutdown requested")

	if !e.started.Load() {
		return nil
	}
	select {
	case <-e.quit:
	default:
		close(e.quit)
	}

	select {
	case <-e.done:
		slog.Info("executor stopped")
		return nil
	case <-ctx.Done():
	}

	slog.Warn("executor: shutdown deadline reached, abandoning in-flight step")
	e.cancel()
	select {
	case <-e.done:
	case <-time.After(e.cfg.AckTimeout):
	}
	return fmt.Errorf("executor.Shutdown: %w", ctx.Err())
}

// run es el único consumidor de la cola.
func (e *Executor) run(ctx context.Context) {
	var fatal <-chan struct{}
	if e.conn != nil {
		fatal = e.conn.Fatal()
	}

	idle := time.NewTimer(e.cfg.IdleWait)
	defer idle.Stop()

	for {
		queue := e.queue
		if e.isPaused() {
			queue = nil
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(e.cfg.IdleWait)

		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		case <-fatal:
			fatal = nil
			e.halt(ctx, domain.StopConnection, "broker connection lost permanently")
		case item := <-queue:
			e.process(ctx, item)
		case <-e.wake:
		case <-idle.C:
		}
	}
}
