// Package calendar mantiene las ventanas de bloqueo por noticias económicas.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/ports"
)

// Config del filtro de noticias.
type Config struct {
	Enabled   bool
	Before    time.Duration
	After     time.Duration
	MinImpact int // 1–3; noticias por debajo se ignoran
}

// Calendar guarda las ventanas vigentes. Un refresh fallido conserva las anteriores.
type Calendar struct {
	cfg      Config
	provider ports.NewsProvider
	notifier ports.Notifier

	mu          sync.RWMutex
	windows     []domain.BlackoutWindow
	refreshedAt time.Time
}

// New crea el calendario. provider y notifier pueden ser nil; sin provider
// los eventos se cargan con SetEvents.
func New(cfg Config, provider ports.NewsProvider, notifier ports.Notifier) *Calendar {
	return &Calendar{cfg: cfg, provider: provider, notifier: notifier}
}

// Enabled indica si el filtro está activo.
func (c *Calendar) Enabled() bool { return c.cfg.Enabled }

// SetEvents reemplaza los eventos conocidos.
func (c *Calendar) SetEvents(events []domain.NewsEvent) {
	windows := make([]domain.BlackoutWindow, 0, len(events))
	for _, ev := range events {
		if domain.ImpactLevel(ev.Impact) < c.cfg.MinImpact {
			continue
		}
		windows = append(windows, domain.WindowFor(ev, c.cfg.Before, c.cfg.After))
	}

	c.mu.Lock()
	c.windows = windows
	c.refreshedAt = time.Now()
	c.mu.Unlock()
}

// Refresh pide los eventos al provider.
func (c *Calendar) Refresh(ctx context.Context) error {
	if c.provider == nil {
		return nil
	}
	events, err := c.provider.FetchEvents(ctx)
	if err != nil {
		return fmt.Errorf("calendar.Refresh: %w", err)
	}
	c.SetEvents(events)

	n := len(c.Windows())
	slog.Info("calendar: news events loaded", "events", len(events), "blackouts", n)
	if n == 0 {
		c.emit(ctx, domain.NewStatus(domain.ComponentCalendar, domain.StatusWarning, "no high impact news found"))
	}
	return nil
}

// Run refresca al arrancar y luego cada every.
func (c *Calendar) Run(ctx context.Context, every time.Duration) {
	if !c.cfg.Enabled || c.provider == nil {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		slog.Warn("calendar: initial refresh failed", "err", err)
		c.emit(ctx, domain.NewStatus(domain.ComponentCalendar, domain.StatusError, err.Error()))
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				slog.Warn("calendar: refresh failed, keeping previous events", "err", err)
			}
		}
	}
}

// Blocked devuelve la noticia que bloquea el activo en at, si la hay.
// Con el filtro desactivado nunca bloquea.
func (c *Calendar) Blocked(asset string, at time.Time) (domain.NewsEvent, bool) {
	if !c.cfg.Enabled {
		return domain.NewsEvent{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range c.windows {
		if w.Event.AffectsAsset(asset) && w.Contains(at) {
			return w.Event, true
		}
	}
	return domain.NewsEvent{}, false
}

// Windows devuelve una copia de las ventanas vigentes.
func (c *Calendar) Windows() []domain.BlackoutWindow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.BlackoutWindow, len(c.windows))
	copy(out, c.windows)
	return out
}

func (c *Calendar) emit(ctx context.Context, ev domain.StatusEvent) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyStatus(ctx, ev); err != nil {
		slog.Warn("calendar: notify status failed", "err", err)
	}
}
