// Package bridge habla JSON sobre HTTP con el sidecar que mantiene la sesión
// real con el broker.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "http://127.0.0.1:8765"

	// El sidecar reenvía cada llamada al broker; se limita por debajo de lo
	// que el broker tolera por sesión.
	generalRatePerSec = 10
	pollRatePerSec    = 20

	maxRetries    = 3
	baseRetryWait = 250 * time.Millisecond
)

// Credentials de la cuenta del broker.
type Credentials struct {
	Email    string
	Password string
	Mode     string // "PRACTICE" | "REAL"
}

// Client es el cliente del bridge con rate limiting y retries en lecturas.
type Client struct {
	http        *http.Client
	base        string
	creds       Credentials
	limiter     *rate.Limiter
	pollLimiter *rate.Limiter
	retryWait   time.Duration

	mu    sync.RWMutex
	token string
}

// Option ajusta el cliente.
type Option func(*Client)

// WithRetryWait cambia la espera base del backoff.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// NewClient crea el cliente. Si base está vacío usa el sidecar local.
func NewClient(base string, creds Credentials, timeout time.Duration, opts ...Option) *Client {
	if base == "" {
		base = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		http:        &http.Client{Timeout: timeout},
		base:        strings.TrimRight(base, "/"),
		creds:       creds,
		limiter:     rate.NewLimiter(generalRatePerSec, 5),
		pollLimiter: rate.NewLimiter(pollRatePerSec, 5),
		retryWait:   baseRetryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError es el cuerpo de error que devuelve el bridge.
type apiError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// request describe una llamada. Solo las idempotentes se reintentan.
type request struct {
	method  string
	path    string
	body    any
	retry   bool
	limiter *rate.Limiter
}

func (c *Client) get(ctx context.Context, limiter *rate.Limiter, path string, out any) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, retry: true, limiter: limiter}, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: body, limiter: c.limiter}, out)
}

// do ejecuta la llamada con backoff exponencial en las reintentables. Los
// fallos de transporte y los 502/503/504 se devuelven como ErrConnectionClosed.
func (c *Client) do(ctx context.Context, r request, out any) error {
	attempts := 1
	if r.retry {
		attempts += maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, attempt-1)
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.send(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("%s %s: %v: %w", r.method, r.path, err, domain.ErrConnectionClosed)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			slog.Warn("bridge: rate limited", "path", r.path, "attempt", attempt+1)
			lastErr = fmt.Errorf("%s %s: rate limited", r.method, r.path)
			continue

		case resp.StatusCode == http.StatusBadGateway,
			resp.StatusCode == http.StatusServiceUnavailable,
			resp.StatusCode == http.StatusGatewayTimeout:
			resp.Body.Close()
			lastErr = fmt.Errorf("%s %s: status %d: %w", r.method, r.path, resp.StatusCode, domain.ErrConnectionClosed)
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("%s %s: server error %d", r.method, r.path, resp.StatusCode)
			continue

		case resp.StatusCode >= 400:
			return c.clientError(r, resp)
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", r.method, r.path, err)
		}
		return nil
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.base+r.path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.sessionToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return c.http.Do(req)
}

// clientError traduce los 4xx del bridge a errores de dominio.
func (c *Client) clientError(r request, resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var ae apiError
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &ae) == nil && ae.Error != "" {
		msg = ae.Error
		if ae.Reason != "" {
			msg += ": " + ae.Reason
		}
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		c.setToken("")
		sentinel = domain.ErrConnectionClosed
	case http.StatusConflict, http.StatusUnprocessableEntity:
		sentinel = domain.ErrOrderRejected
	case http.StatusNotFound:
		sentinel = domain.ErrAssetNotOpen
	}
	if sentinel != nil {
		return fmt.Errorf("%s %s: %d %s: %w", r.method, r.path, resp.StatusCode, msg, sentinel)
	}
	return fmt.Errorf("%s %s: client error %d: %s", r.method, r.path, resp.StatusCode, msg)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}
