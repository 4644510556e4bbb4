package staking

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Profile agrupa los parámetros de recuperación entre ciclos.
type Profile struct {
	Name             string
	RecoveryFraction decimal.Decimal // fracción de la pérdida acumulada a recuperar
	MaxGalesPerCycle int
	MaxLostCycles    int
}

var (
	// Aggressive intenta recuperar toda la pérdida en la primera entrada del ciclo siguiente.
	Aggressive = Profile{
		Name:             "aggressive",
		RecoveryFraction: decimal.NewFromInt(1),
		MaxGalesPerCycle: 2,
		MaxLostCycles:    3,
	}
	// Conservative recupera la mitad y corta antes.
	Conservative = Profile{
		Name:             "conservative",
		RecoveryFraction: decimal.NewFromFloat(0.5),
		MaxGalesPerCycle: 1,
		MaxLostCycles:    2,
	}
)

// ProfileByName busca un perfil predefinido.
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Aggressive.Name:
		return Aggressive, nil
	case Conservative.Name:
		return Conservative, nil
	}
	return Profile{}, invalid("unknown cycle profile %q", name)
}

// CycleConfig configura la política de martingale con recuperación.
type CycleConfig struct {
	BaseStake        decimal.Decimal
	MartingaleFactor decimal.Decimal
	MinStake         decimal.Decimal
	Profile          Profile
}

// Validate rechaza configuraciones que no pueden producir entradas.
func (c CycleConfig) Validate() error {
	if !c.BaseStake.IsPositive() {
		return invalid("base stake must be positive")
	}
	if c.MartingaleFactor.LessThan(decimal.NewFromInt(1)) {
		return invalid("martingale factor must be >= 1, got %s", c.MartingaleFactor)
	}
	if c.MinStake.IsNegative() {
		return invalid("min stake must not be negative")
	}
	if !c.Profile.RecoveryFraction.IsPositive() {
		return invalid("recovery fraction must be positive")
	}
	if c.Profile.MaxGalesPerCycle < 0 || c.Profile.MaxLostCycles <= 0 {
		return invalid("profile %q: max gales >= 0 and max lost cycles > 0 required", c.Profile.Name)
	}
	return nil
}

// CyclePolicy es un martingale por ciclos: dentro de un ciclo multiplica la
// entrada anterior por el factor; al perder el ciclo completo, la primera
// entrada del siguiente intenta recuperar la pérdida acumulada.
type CyclePolicy struct {
	cfg CycleConfig

	mu              sync.Mutex
	galeLevel       int
	lostCycles      int
	accumulatedLoss decimal.Decimal
	lastStake       decimal.Decimal
	active          bool
}

// NewCycle crea la política ya reseteada.
func NewCycle(cfg CycleConfig) (*CyclePolicy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("staking.NewCycle: %w", err)
	}
	p := &CyclePolicy{cfg: cfg}
	p.Reset()
	return p, nil
}

func (p *CyclePolicy) Name() string { return "cycle/" + p.cfg.Profile.Name }

// NextStake implementa Policy.
func (p *CyclePolicy) NextStake(sc Context) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return decimal.Zero
	}

	var stake decimal.Decimal
	switch {
	case p.galeLevel > 0:
		stake = p.lastStake.Mul(p.cfg.MartingaleFactor)
	case p.accumulatedLoss.IsZero():
		stake = p.cfg.BaseStake
	case !sc.Payout.IsPositive():
		slog.Warn("staking: non-positive payout for recovery stake, using base stake",
			"payout", sc.Payout.String(),
			"accumulated_loss", money(p.accumulatedLoss),
		)
		stake = p.cfg.BaseStake
	default:
		stake = p.accumulatedLoss.Mul(p.cfg.Profile.RecoveryFraction).Div(sc.Payout)
	}

	stake = stake.Round(2)
	if stake.LessThan(p.cfg.MinStake) {
		stake = p.cfg.MinStake
	}
	return stake
}

// RecordOutcome implementa Policy.
func (p *CyclePolicy) RecordOutcome(stakeUsed, profit decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	p.lastStake = stakeUsed

	if isWin(profit) {
		p.galeLevel = 0
		p.accumulatedLoss = decimal.Zero
		p.lostCycles = 0
		return
	}

	p.accumulatedLoss = p.accumulatedLoss.Add(stakeUsed)
	p.galeLevel++
	if p.galeLevel <= p.cfg.Profile.MaxGalesPerCycle {
		return
	}

	// ciclo perdido
	p.lostCycles++
	p.galeLevel = 0
	slog.Info("staking: cycle lost",
		"lost_cycles", p.lostCycles,
		"max_lost_cycles", p.cfg.Profile.MaxLostCycles,
		"accumulated_loss", money(p.accumulatedLoss),
	)
	if p.lostCycles >= p.cfg.Profile.MaxLostCycles {
		p.active = false
		slog.Warn("staking: max lost cycles reached, policy inactive until reset",
			"profile", p.cfg.Profile.Name)
	}
}

// Reset implementa Policy.
func (p *CyclePolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.galeLevel = 0
	p.lostCycles = 0
	p.accumulatedLoss = decimal.Zero
	p.lastStake = decimal.Zero
	p.active = true
}

func (p *CyclePolicy) IsExhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.active
}

// GaleDue indica que la última entrada perdió dentro del ciclo y toca un gale.
func (p *CyclePolicy) GaleDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active && p.galeLevel > 0
}

// CycleState es una copia del estado interno para tests y reportes.
type CycleState struct {
	GaleLevel       int
	LostCycles      int
	AccumulatedLoss decimal.Decimal
	LastStake       decimal.Decimal
	Active          bool
}

func (p *CyclePolicy) State() CycleState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return CycleState{
		GaleLevel:       p.galeLevel,
		LostCycles:      p.lostCycles,
		AccumulatedLoss: p.accumulatedLoss,
		LastStake:       p.lastStake,
		Active:          p.active,
	}
}

// Summary implementa Policy.
func (p *CyclePolicy) Summary() map[string]any {
	st := p.State()
	return map[string]any{
		"policy":           p.Name(),
		"gale_level":       st.GaleLevel,
		"lost_cycles":      st.LostCycles,
		"accumulated_loss": money(st.AccumulatedLoss),
		"active":           st.Active,
	}
}
