// Package news lee el calendario económico semanal en formato JSON
// (feed estilo ForexFactory).
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultFeedURL = "https://nfs.faireconomy.media/ff_calendar_thisweek.json"

	// El feed se regenera cada pocos minutos y bloquea clientes agresivos.
	requestsPerMinute = 2
	maxRetries        = 2
	baseRetryWait     = 2 * time.Second
)

// feedEvent es una fila del feed.
type feedEvent struct {
	Title   string `json:"title"`
	Country string `json:"country"`
	Date    string `json:"date"`
	Impact  string `json:"impact"`
}

// Client implementa ports.NewsProvider.
type Client struct {
	http      *http.Client
	url       string
	limiter   *rate.Limiter
	retryWait time.Duration
}

// NewClient crea el cliente. url vacío usa el feed público.
func NewClient(url string) *Client {
	if url == "" {
		url = defaultFeedURL
	}
	return &Client{
		http:      &http.Client{Timeout: 15 * time.Second},
		url:       url,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/requestsPerMinute), 1),
		retryWait: baseRetryWait,
	}
}

// FetchEvents descarga el calendario. Las filas sin fecha parseable (eventos
// "All Day" o "Tentative") se descartan.
func (c *Client) FetchEvents(ctx context.Context) ([]domain.NewsEvent, error) {
	var raw []feedEvent
	if err := c.get(ctx, &raw); err != nil {
		return nil, fmt.Errorf("news.FetchEvents: %w", err)
	}

	events := make([]domain.NewsEvent, 0, len(raw))
	skipped := 0
	for _, fe := range raw {
		at, err := time.Parse(time.RFC3339, fe.Date)
		if err != nil || fe.Country == "" {
			skipped++
			continue
		}
		events = append(events, domain.NewsEvent{
			Currency: strings.ToUpper(fe.Country),
			Time:     at,
			Impact:   fe.Impact,
			Title:    fe.Title,
		})
	}
	if skipped > 0 {
		slog.Debug("news: skipped malformed rows", "count", skipped)
	}
	return events, nil
}

func (c *Client) get(ctx context.Context, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryWait
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "binbot/1.0")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			slog.Warn("news: feed unavailable", "status", resp.StatusCode, "attempt", attempt+1)
			if attempt == maxRetries {
				return fmt.Errorf("feed status %d after %d retries", resp.StatusCode, maxRetries)
			}
			continue
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode feed: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}
