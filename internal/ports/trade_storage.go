package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
)

// TradeStorage persiste el journal de sesiones y trades.
type TradeStorage interface {
	SaveSession(ctx context.Context, s domain.SessionRecord) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time, reason domain.StopReason, ledger domain.Ledger) error
	SaveTrade(ctx context.Context, r domain.TradeResult) error

	// GetRecentTrades devuelve los últimos limit trades, más reciente primero.
	GetRecentTrades(ctx context.Context, limit int) ([]domain.TradeResult, error)

	// GetSessionSummaries agrega los trades por sesión.
	GetSessionSummaries(ctx context.Context, limit int) ([]domain.SessionSummary, error)
}
