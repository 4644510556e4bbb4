// Package paper simula el broker en memoria para sesiones sin dinero real.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config de la simulación.
type Config struct {
	Balance        decimal.Decimal
	Payout         decimal.Decimal // fracción pagada sobre la entrada ganadora
	WinProbability float64
	SpeedFactor    float64 // 60 → una expiración de 1 minuto liquida en 1s
	MinStake       decimal.Decimal
	Instruments    map[domain.OptionKind][]string
	Expiries       []int
	Seed           uint64
}

// DefaultInstruments es la tabla fija de instrumentos abiertos.
func DefaultInstruments() map[domain.OptionKind][]string {
	return map[domain.OptionKind][]string{
		domain.KindTurbo:   {"EURUSD-op", "GBPUSD-op", "USDJPY-op", "EURUSD-OTC", "GBPUSD-OTC"},
		domain.KindBinary:  {"EURUSD", "GBPUSD", "USDJPY", "AUDCAD", "EURJPY"},
		domain.KindDigital: {"EURUSD", "GBPUSD", "EURJPY-OTC"},
	}
}

type order struct {
	domain.Order
	win      bool
	settleAt time.Time
	settled  bool
	profit   decimal.Decimal
}

// Broker implementa ports.Broker y ports.PayoutQuoter.
type Broker struct {
	cfg Config

	mu        sync.Mutex
	rng       *rand.Rand
	connected bool
	downUntil time.Time
	balance   decimal.Decimal
	orders    map[string]*order
	now       func() time.Time
}

// New crea el broker desconectado.
func New(cfg Config) *Broker {
	if cfg.Payout.IsZero() {
		cfg.Payout = decimal.RequireFromString("0.87")
	}
	if cfg.WinProbability <= 0 {
		cfg.WinProbability = 0.5
	}
	if cfg.SpeedFactor <= 0 {
		cfg.SpeedFactor = 1
	}
	if cfg.MinStake.IsZero() {
		cfg.MinStake = decimal.NewFromInt(1)
	}
	if cfg.Instruments == nil {
		cfg.Instruments = DefaultInstruments()
	}
	if len(cfg.Expiries) == 0 {
		cfg.Expiries = []int{1, 5, 15}
	}
	return &Broker{
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		balance: cfg.Balance,
		orders:  make(map[string]*order),
		now:     time.Now,
	}
}

// DropConnection simula una caída de la sesión durante d.
func (b *Broker) DropConnection(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.downUntil = b.now().Add(d)
	slog.Warn("paper: connection dropped", "for", d)
}

// Balance devuelve el saldo simulado.
func (b *Broker) Balance() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

func (b *Broker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.downUntil) {
		return fmt.Errorf("paper.Connect: network unreachable: %w", domain.ErrConnectionClosed)
	}
	b.connected = true
	return nil
}

func (b *Broker) Probe(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkLocked("paper.Probe")
}

func (b *Broker) SubmitOrder(_ context.Context, o domain.Order) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLocked("paper.SubmitOrder"); err != nil {
		return "", err
	}
	if !slices.Contains(b.cfg.Instruments[o.Kind], o.Instrument) {
		return "", fmt.Errorf("paper.SubmitOrder: %s/%s closed: %w", o.Instrument, o.Kind, domain.ErrOrderRejected)
	}
	if o.Stake.LessThan(b.cfg.MinStake) {
		return "", fmt.Errorf("paper.SubmitOrder: stake %s below minimum %s: %w",
			o.Stake.StringFixed(2), b.cfg.MinStake.StringFixed(2), domain.ErrOrderRejected)
	}
	if b.cfg.Balance.IsPositive() && o.Stake.GreaterThan(b.balance) {
		return "", fmt.Errorf("paper.SubmitOrder: insufficient balance: %w", domain.ErrOrderRejected)
	}

	o.ID = uuid.New().String()
	o.PlacedAt = b.now()
	expiry := time.Duration(float64(time.Duration(o.Expiry)*time.Minute) / b.cfg.SpeedFactor)
	b.orders[o.ID] = &order{
		Order:    o,
		win:      b.rng.Float64() < b.cfg.WinProbability,
		settleAt: o.PlacedAt.Add(expiry),
	}
	b.balance = b.balance.Sub(o.Stake)
	return o.ID, nil
}

func (b *Broker) PollResult(_ context.Context, orderID string, _ domain.OptionKind) (domain.Settlement, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLocked("paper.PollResult"); err != nil {
		return domain.Settlement{}, err
	}
	o, ok := b.orders[orderID]
	if !ok {
		return domain.Settlement{}, fmt.Errorf("paper.PollResult: unknown order %s", orderID)
	}
	if b.now().Before(o.settleAt) {
		return domain.Settlement{}, nil
	}
	if !o.settled {
		o.settled = true
		o.profit = o.Stake.Neg()
		if o.win {
			o.profit = o.Stake.Mul(b.cfg.Payout).Round(2)
			b.balance = b.balance.Add(o.Stake).Add(o.profit)
		}
	}
	return domain.Settlement{Settled: true, Profit: o.profit}, nil
}

func (b *Broker) ListOpenInstruments(context.Context) (map[domain.OptionKind][]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked("paper.ListOpenInstruments"); err != nil {
		return nil, err
	}
	out := make(map[domain.OptionKind][]string, len(b.cfg.Instruments))
	for k, names := range b.cfg.Instruments {
		out[k] = slices.Clone(names)
	}
	return out, nil
}

func (b *Broker) ListAvailableExpiries(_ context.Context, instrument string, kind domain.OptionKind) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked("paper.ListAvailableExpiries"); err != nil {
		return nil, err
	}
	if !slices.Contains(b.cfg.Instruments[kind], instrument) {
		return nil, fmt.Errorf("paper.ListAvailableExpiries: %s: %w", instrument, domain.ErrAssetNotOpen)
	}
	return slices.Clone(b.cfg.Expiries), nil
}

// Payout implementa ports.PayoutQuoter.
func (b *Broker) Payout(context.Context, string, domain.OptionKind) (decimal.Decimal, error) {
	return b.cfg.Payout, nil
}

// checkLocked requiere b.mu.
func (b *Broker) checkLocked(op string) error {
	if !b.connected {
		return fmt.Errorf("%s: %w", op, domain.ErrConnectionClosed)
	}
	return nil
}
