package executor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/domain/staking"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionConfig son los parámetros fijos de una sesión. Cambiar de política
// exige parar la sesión y empezar otra.
type SessionConfig struct {
	Policy        staking.Settings
	Stops         domain.StopConditions
	DefaultPayout decimal.Decimal // fracción, usada si el broker no cotiza payout
}

func (c SessionConfig) Validate() error {
	if c.Stops.StopWin.IsNegative() || c.Stops.StopLoss.IsNegative() {
		return fmt.Errorf("%w: stop thresholds must be positive magnitudes", domain.ErrInvalidConfig)
	}
	one := decimal.NewFromInt(1)
	if !c.DefaultPayout.IsPositive() || c.DefaultPayout.GreaterThan(one) {
		return fmt.Errorf("%w: default payout must be in (0, 1], got %s", domain.ErrInvalidConfig, c.DefaultPayout)
	}
	return nil
}

// StartSession valida la configuración, construye la política y pone el
// motor en marcha con ledger y flags limpios. Devuelve el ID de sesión.
func (e *Executor) StartSession(ctx context.Context, sc SessionConfig) (string, error) {
	if e.closed.Load() {
		return "", fmt.Errorf("executor.StartSession: %w", domain.ErrEngineNotRunning)
	}
	if err := sc.Validate(); err != nil {
		return "", fmt.Errorf("executor.StartSession: %w", err)
	}
	policy, err := staking.New(sc.Policy)
	if err != nil {
		return "", fmt.Errorf("executor.StartSession: %w", err)
	}
	policy.Reset()

	e.mu.Lock()
	if e.state.Running {
		e.mu.Unlock()
		return "", fmt.Errorf("executor.StartSession: %w", domain.ErrSessionActive)
	}
	e.drainQueue()
	e.policy = policy
	e.stops = sc.Stops
	e.defaultPayout = sc.DefaultPayout
	e.ledger.Reset()
	e.state = EngineState{
		SessionID: uuid.New().String(),
		Running:   true,
		StartedAt: time.Now().UTC(),
	}
	state := e.state
	e.mu.Unlock()

	if e.storage != nil {
		rec := domain.SessionRecord{
			ID:        state.SessionID,
			Policy:    policy.Name(),
			StopWin:   sc.Stops.StopWin,
			StopLoss:  sc.Stops.StopLoss,
			StartedAt: state.StartedAt,
		}
		if err := e.storage.SaveSession(ctx, rec); err != nil {
			slog.Warn("executor: journal session failed", "session", state.SessionID, "err", err)
		}
	}

	slog.Info("executor: session started",
		"session", state.SessionID,
		"policy", policy.Name(),
		"stop_win", sc.Stops.StopWin.StringFixed(2),
		"stop_loss", sc.Stops.StopLoss.StringFixed(2),
	)
	e.emit(ctx, domain.NewStatus(domain.ComponentEngine, domain.StatusRunning, "session started with "+policy.Name()))
	return state.SessionID, nil
}

// StopSession para el motor. Las peticiones ya encoladas se descartan.
func (e *Executor) StopSession(ctx context.Context) {
	e.halt(ctx, domain.StopManual, "session stopped by operator")
}

// Pause deja de consumir la cola; Submit sigue aceptando.
func (e *Executor) Pause(ctx context.Context) {
	if !e.setPaused(true) {
		return
	}
	slog.Info("executor: paused")
	e.emit(ctx, domain.NewStatus(domain.ComponentEngine, domain.StatusPaused, "paused by operator"))
}

func (e *Executor) Resume(ctx context.Context) {
	if !e.setPaused(false) {
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	slog.Info("executor: resumed")
	e.emit(ctx, domain.NewStatus(domain.ComponentEngine, domain.StatusRunning, "resumed by operator"))
}

// setPaused devuelve true si cambió el estado.
func (e *Executor) setPaused(paused bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Paused == paused {
		return false
	}
	e.state.Paused = paused
	return true
}

func (e *Executor) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Paused
}

// sessionActive indica si la sesión id sigue corriendo.
func (e *Executor) sessionActive(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Running && e.state.SessionID == id
}

// halt es la única transición running → parado. Repetirla no tiene efecto.
func (e *Executor) halt(ctx context.Context, reason domain.StopReason, msg string) {
	e.mu.Lock()
	if !e.state.Running {
		e.mu.Unlock()
		return
	}
	e.state.Running = false
	e.state.StopReason = reason
	sessionID := e.state.SessionID
	ledger := e.ledger
	e.mu.Unlock()

	attrs := []any{
		"session", sessionID,
		"reason", reason,
		"cumulative_profit", ledger.CumulativeProfit.StringFixed(2),
		"wins", ledger.Wins,
		"losses", ledger.Losses,
	}
	switch reason {
	case domain.StopConnection:
		slog.Error("executor: engine stopped", attrs...)
	default:
		slog.Info("executor: engine stopped", attrs...)
	}

	if e.storage != nil {
		if err := e.storage.EndSession(ctx, sessionID, time.Now().UTC(), reason, ledger); err != nil {
			slog.Warn("executor: journal session end failed", "session", sessionID, "err", err)
		}
	}
	e.emit(ctx, domain.NewStatus(domain.ComponentEngine, domain.StatusStopped, fmt.Sprintf("%s: %s", reason, msg)))
}

// drainQueue descarta lo encolado en una sesión anterior y libera sus activos.
// Las claves de una cadena aún en curso siguen marcadas hasta que termine.
// Requiere e.mu.
func (e *Executor) drainQueue() {
	for {
		select {
		case item := <-e.queue:
			delete(e.busy, item.key)
			slog.Info("executor: dropping request from previous session", "asset", item.req.SignalAsset)
		default:
			return
		}
	}
}

// Snapshot es la vista pública del motor.
type Snapshot struct {
	SessionID        string            `json:"session_id"`
	Running          bool              `json:"running"`
	Paused           bool              `json:"paused"`
	StopReason       domain.StopReason `json:"stop_reason,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	CumulativeProfit decimal.Decimal   `json:"cumulative_profit"`
	Wins             int               `json:"wins"`
	Losses           int               `json:"losses"`
	Breakevens       int               `json:"breakevens"`
	QueueDepth       int               `json:"queue_depth"`
	BusyAssets       []string          `json:"busy_assets"`
	Connected        bool              `json:"connected"`
	Policy           map[string]any    `json:"policy,omitempty"`
}

func (e *Executor) Snapshot() Snapshot {
	e.mu.Lock()
	s := Snapshot{
		SessionID:        e.state.SessionID,
		Running:          e.state.Running,
		Paused:           e.state.Paused,
		StopReason:       e.state.StopReason,
		StartedAt:        e.state.StartedAt,
		CumulativeProfit: e.ledger.CumulativeProfit,
		Wins:             e.ledger.Wins,
		Losses:           e.ledger.Losses,
		Breakevens:       e.ledger.Breakevens,
		QueueDepth:       len(e.queue),
		BusyAssets:       make([]string, 0, len(e.busy)),
	}
	for k := range e.busy {
		s.BusyAssets = append(s.BusyAssets, k)
	}
	policy := e.policy
	e.mu.Unlock()
	slices.Sort(s.BusyAssets)

	if policy != nil {
		s.Policy = policy.Summary()
	}
	if e.conn != nil {
		s.Connected = e.conn.IsConnected()
	}
	return s
}

func (e *Executor) emit(ctx context.Context, ev domain.StatusEvent) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyStatus(ctx, ev); err != nil {
		slog.Warn("executor: notify status failed", "err", err)
	}
}
