package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction es el sentido de una opción binaria.
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

// ParseDirection acepta "call"/"put" en cualquier capitalización.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL":
		return DirectionCall, nil
	case "PUT":
		return DirectionPut, nil
	}
	return "", fmt.Errorf("domain.ParseDirection: unknown direction %q", s)
}

// TradeRequest es lo que una estrategia entrega al executor.
// Inmutable: el executor la consume exactamente una vez.
type TradeRequest struct {
	SignalAsset   string            `json:"asset"`
	Direction     Direction         `json:"direction"`
	ExpiryMinutes int               `json:"expiry_minutes"`
	Context       map[string]string `json:"context,omitempty"`
}

// Validate comprueba los campos mínimos antes de encolar.
func (r TradeRequest) Validate() error {
	if strings.TrimSpace(r.SignalAsset) == "" {
		return fmt.Errorf("trade request: empty asset")
	}
	if r.Direction != DirectionCall && r.Direction != DirectionPut {
		return fmt.Errorf("trade request: invalid direction %q", r.Direction)
	}
	if r.ExpiryMinutes <= 0 {
		return fmt.Errorf("trade request: expiry must be positive, got %d", r.ExpiryMinutes)
	}
	return nil
}

// AssetKey es la clave de los flags de "ocupado": EURUSD, EURUSD-op y
// EURUSD-OTC comparten clave.
func AssetKey(asset string) string {
	return BaseSymbol(asset)
}

// Outcome clasifica el resultado liquidado de un paso de la cadena.
type Outcome string

const (
	OutcomeWin       Outcome = "WIN"
	OutcomeLoss      Outcome = "LOSS"
	OutcomeBreakeven Outcome = "BREAKEVEN"
	OutcomeAborted   Outcome = "ABORTED"
)

// OutcomeFor clasifica un profit liquidado.
func OutcomeFor(profit decimal.Decimal) Outcome {
	switch profit.Sign() {
	case 1:
		return OutcomeWin
	case 0:
		return OutcomeBreakeven
	default:
		return OutcomeLoss
	}
}

// TradeResult se emite una vez por paso liquidado (o abortado) de una cadena.
type TradeResult struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	OrderID     string            `json:"order_id,omitempty"`
	SignalAsset string            `json:"signal_asset"`
	Asset       string            `json:"asset"`
	Direction   Direction         `json:"direction"`
	Expiry      int               `json:"expiry_minutes"`
	GaleLevel   int               `json:"gale_level"`
	StakeUsed   decimal.Decimal   `json:"stake"`
	Profit      decimal.Decimal   `json:"profit"`
	Outcome     Outcome           `json:"outcome"`
	Executed    bool              `json:"executed"`
	Assumed     bool              `json:"assumed"` // resultado no confirmado por el broker: pérdida asumida
	Reason      string            `json:"reason,omitempty"`
	Cumulative  decimal.Decimal   `json:"cumulative_profit"`
	Context     map[string]string `json:"context,omitempty"`
	Policy      map[string]any    `json:"policy,omitempty"`
	SettledAt   time.Time         `json:"settled_at"`
}

// Order es una orden sobre un instrumento resuelto. El ID lo asigna el broker.
type Order struct {
	ID         string
	Instrument string
	Kind       OptionKind
	Direction  Direction
	Stake      decimal.Decimal
	Expiry     int
	PlacedAt   time.Time
}

// Settlement es el estado de una orden consultada al broker.
type Settlement struct {
	Settled bool
	Profit  decimal.Decimal
}
