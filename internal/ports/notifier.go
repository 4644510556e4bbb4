package ports

import (
	"context"

	"github.com/alejandrodnm/binbot/internal/domain"
)

// Notifier recibe los eventos del motor. Se llama de forma síncrona desde el
// worker, una vez por evento; las implementaciones no deben bloquear.
type Notifier interface {
	// NotifyTrade se invoca por cada paso de cadena liquidado o abortado.
	NotifyTrade(ctx context.Context, result domain.TradeResult) error

	// NotifyStatus se invoca en cada transición de conectividad o del motor.
	NotifyStatus(ctx context.Context, event domain.StatusEvent) error
}
