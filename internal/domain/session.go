package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionRecord es la fila de journal de una sesión de trading.
type SessionRecord struct {
	ID        string
	Policy    string
	StopWin   decimal.Decimal
	StopLoss  decimal.Decimal
	StartedAt time.Time
}

// SessionSummary agrega el resultado de una sesión para el reporte.
type SessionSummary struct {
	ID         string
	Policy     string
	StartedAt  time.Time
	EndedAt    *time.Time
	StopReason StopReason
	Trades     int
	Wins       int
	Losses     int
	Assumed    int
	NetProfit  decimal.Decimal
}

// WinRate devuelve el porcentaje de trades ganados (0–100).
func (s SessionSummary) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}
