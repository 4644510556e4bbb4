package staking

import (
	"fmt"
	"math/big"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Context son los datos por trade que la política necesita para calcular la entrada.
type Context struct {
	// Payout del instrumento como fracción (0.87 = 87%).
	Payout decimal.Decimal
}

// Policy define el contrato de gestión de capital. Cada política encapsula
// una máquina de estados distinta; se elige una al iniciar la sesión.
type Policy interface {
	// Name identifica la política en logs y en el journal.
	Name() string

	// NextStake devuelve la entrada del próximo trade, o cero para "no operar".
	// No modifica el estado de la política.
	NextStake(sc Context) decimal.Decimal

	// RecordOutcome aplica el resultado liquidado. profit <= 0 cuenta como pérdida.
	RecordOutcome(stakeUsed, profit decimal.Decimal)

	// Reset restaura el estado inicial para una sesión nueva.
	Reset()

	IsExhausted() bool

	// Summary es una vista del estado para notificaciones.
	Summary() map[string]any
}

// GaleChainer lo implementan las políticas que pueden pedir otra entrada
// (gale) sobre la misma señal tras una pérdida.
type GaleChainer interface {
	GaleDue() bool
}

// isWin aplica la regla común: el empate cuenta como pérdida.
func isWin(profit decimal.Decimal) bool {
	return profit.IsPositive()
}

// binomial devuelve C(n, k), o cero si k está fuera de [0, n].
func binomial(n, k int) *big.Int {
	if n < 0 || k < 0 || k > n {
		return big.NewInt(0)
	}
	return new(big.Int).Binomial(int64(n), int64(k))
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidConfig}, args...)...)
}

// Tipos de política seleccionables al iniciar sesión.
const (
	KindCycle      = "cycle"
	KindMasaniello = "masaniello"
)

// Settings elige la política de la sesión. Solo se usa la sección del Kind elegido.
type Settings struct {
	Kind       string
	Cycle      CycleConfig
	Masaniello MasanielloConfig
}

// New construye la política indicada por s.Kind.
func New(s Settings) (Policy, error) {
	switch s.Kind {
	case KindCycle, "":
		return NewCycle(s.Cycle)
	case KindMasaniello:
		return NewMasaniello(s.Masaniello)
	}
	return nil, fmt.Errorf("staking.New: %w", invalid("unknown policy %q", s.Kind))
}
