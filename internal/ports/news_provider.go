package ports

import (
	"context"

	"github.com/alejandrodnm/binbot/internal/domain"
)

// NewsProvider obtiene el calendario económico de la semana.
type NewsProvider interface {
	FetchEvents(ctx context.Context) ([]domain.NewsEvent, error)
}
