package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
)

// InstrumentLister es la parte del broker que alimenta la cache.
type InstrumentLister interface {
	ListOpenInstruments(ctx context.Context) (map[domain.OptionKind][]string, error)
}

// Cache guarda el último snapshot de instrumentos abiertos. Solo Refresh
// escribe; los lectores toman el lock compartido.
type Cache struct {
	lister InstrumentLister
	maxAge time.Duration

	mu   sync.RWMutex
	snap *domain.InstrumentsSnapshot
}

// NewCache crea una cache vacía. maxAge es la antigüedad a partir de la cual
// una lectura se registra como stale.
func NewCache(lister InstrumentLister, maxAge time.Duration) *Cache {
	return &Cache{lister: lister, maxAge: maxAge}
}

// Refresh consulta al broker y reemplaza el snapshot. Si falla, el snapshot
// anterior sigue vigente.
func (c *Cache) Refresh(ctx context.Context) error {
	byKind, err := c.lister.ListOpenInstruments(ctx)
	if err != nil {
		return fmt.Errorf("resolver.Refresh: list open instruments: %w", err)
	}
	snap := &domain.InstrumentsSnapshot{
		Open:        domain.NewOpenInstruments(byKind),
		RefreshedAt: time.Now(),
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	slog.Debug("resolver: open instruments refreshed", "count", snap.Open.Count())
	return nil
}

// Snapshot devuelve el último snapshot o ErrInstrumentsNotLoaded si todavía
// no hubo un refresh exitoso.
func (c *Cache) Snapshot() (domain.InstrumentsSnapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap == nil {
		return domain.InstrumentsSnapshot{}, domain.ErrInstrumentsNotLoaded
	}
	if age := time.Since(snap.RefreshedAt); c.maxAge > 0 && age > c.maxAge {
		slog.Warn("resolver: open instruments snapshot is stale",
			"age", age.Round(time.Second),
			"max_age", c.maxAge,
		)
	}
	return *snap, nil
}

// Run refresca al arrancar y luego cada every hasta que ctx se cancele.
func (c *Cache) Run(ctx context.Context, every time.Duration) {
	if err := c.Refresh(ctx); err != nil {
		slog.Warn("resolver: initial refresh failed", "err", err)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				slog.Warn("resolver: refresh failed, keeping previous snapshot", "err", err)
			}
		}
	}
}
