package staking

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// MasanielloStatus es la fase del plan de N trades.
type MasanielloStatus string

const (
	MasanielloWaiting       MasanielloStatus = "waiting"
	MasanielloRunning       MasanielloStatus = "running"
	MasanielloCycleComplete MasanielloStatus = "cycle_complete"
	MasanielloTargetMet     MasanielloStatus = "target_met"
	MasanielloRuined        MasanielloStatus = "ruined"
	MasanielloUnreachable   MasanielloStatus = "unreachable"
)

// Finished indica que el plan ya no produce entradas.
func (s MasanielloStatus) Finished() bool {
	return s != MasanielloWaiting && s != MasanielloRunning
}

// MasanielloConfig fija los parámetros del plan. Inmutables durante la sesión.
type MasanielloConfig struct {
	Capital decimal.Decimal
	Trades  int             // N
	Wins    int             // K
	Payout  decimal.Decimal // fracción 0–1
}

func (c MasanielloConfig) Validate() error {
	switch {
	case !c.Capital.IsPositive():
		return invalid("masaniello capital must be positive")
	case c.Trades <= 0 || c.Wins <= 0:
		return invalid("masaniello trades and wins must be positive")
	case c.Wins > c.Trades:
		return invalid("masaniello wins (%d) cannot exceed trades (%d)", c.Wins, c.Trades)
	case !c.Payout.IsPositive():
		return invalid("masaniello payout must be positive")
	}
	return nil
}

// MasanielloPolicy dimensiona cada entrada para que K aciertos en N trades
// lleven el capital a una trayectoria prefijada.
type MasanielloPolicy struct {
	cfg MasanielloConfig

	mu              sync.Mutex
	capital         decimal.Decimal
	totalEvents     int // trades restantes
	favorableEvents int // wins que faltan
	tradesDone      int
	winsDone        int
	lossesDone      int
}

// NewMasaniello crea la política con el plan completo por delante.
func NewMasaniello(cfg MasanielloConfig) (*MasanielloPolicy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("staking.NewMasaniello: %w", err)
	}
	p := &MasanielloPolicy{cfg: cfg}
	p.Reset()
	return p, nil
}

func (p *MasanielloPolicy) Name() string { return "masaniello" }

// NextStake implementa Policy.
func (p *MasanielloPolicy) NextStake(_ Context) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	stake, _ := p.evaluate()
	return stake
}

// evaluate calcula la entrada y la fase sin tocar el estado. Requiere p.mu.
func (p *MasanielloPolicy) evaluate() (decimal.Decimal, MasanielloStatus) {
	switch {
	case p.tradesDone >= p.cfg.Trades:
		return decimal.Zero, MasanielloCycleComplete
	case p.winsDone >= p.cfg.Wins:
		return decimal.Zero, MasanielloTargetMet
	case !p.capital.IsPositive():
		return decimal.Zero, MasanielloRuined
	}

	running := MasanielloRunning
	if p.tradesDone == 0 {
		running = MasanielloWaiting
	}

	// todos los trades restantes tienen que ganar
	if p.cfg.Trades-p.tradesDone == p.cfg.Wins-p.winsDone {
		return p.capital.Div(p.cfg.Payout).Round(2), running
	}

	num := binomial(p.totalEvents-1, p.favorableEvents)
	den := binomial(p.totalEvents, p.favorableEvents)
	if den.Sign() == 0 {
		return decimal.Zero, MasanielloUnreachable
	}

	fraction := decimal.NewFromBigInt(num, 0).Div(decimal.NewFromBigInt(den, 0))
	stake := p.capital.Mul(decimal.NewFromInt(1).Sub(fraction)).Div(p.cfg.Payout).Round(2)
	if !stake.IsPositive() {
		return decimal.Zero, MasanielloRuined
	}
	return stake, running
}

// RecordOutcome implementa Policy.
func (p *MasanielloPolicy) RecordOutcome(stakeUsed, profit decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if isWin(profit) {
		p.capital = p.capital.Add(profit)
		p.winsDone++
		p.favorableEvents--
	} else {
		p.capital = p.capital.Sub(stakeUsed)
		p.lossesDone++
	}
	p.tradesDone++
	p.totalEvents--

	slog.Info("staking: masaniello after trade",
		"trades", p.tradesDone,
		"wins", p.winsDone,
		"losses", p.lossesDone,
		"capital", money(p.capital),
	)
}

// Reset implementa Policy.
func (p *MasanielloPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capital = p.cfg.Capital
	p.totalEvents = p.cfg.Trades
	p.favorableEvents = p.cfg.Wins
	p.tradesDone = 0
	p.winsDone = 0
	p.lossesDone = 0
}

func (p *MasanielloPolicy) IsExhausted() bool {
	return p.Status().Finished()
}

func (p *MasanielloPolicy) Status() MasanielloStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, st := p.evaluate()
	return st
}

// MasanielloState es una copia de los contadores.
type MasanielloState struct {
	Capital         decimal.Decimal
	TotalEvents     int
	FavorableEvents int
	TradesDone      int
	WinsDone        int
	LossesDone      int
	Status          MasanielloStatus
}

func (p *MasanielloPolicy) State() MasanielloState {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, st := p.evaluate()
	return MasanielloState{
		Capital:         p.capital,
		TotalEvents:     p.totalEvents,
		FavorableEvents: p.favorableEvents,
		TradesDone:      p.tradesDone,
		WinsDone:        p.winsDone,
		LossesDone:      p.lossesDone,
		Status:          st,
	}
}

// Summary implementa Policy.
func (p *MasanielloPolicy) Summary() map[string]any {
	st := p.State()
	return map[string]any{
		"policy":        p.Name(),
		"capital":       money(st.Capital),
		"trades_done":   st.TradesDone,
		"num_trades":    p.cfg.Trades,
		"wins":          st.WinsDone,
		"expected_wins": p.cfg.Wins,
		"losses":        st.LossesDone,
		"status":        string(st.Status),
		"finished":      st.Status.Finished(),
	}
}
