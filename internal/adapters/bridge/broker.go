package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Connect abre la sesión en el bridge y guarda el token.
func (c *Client) Connect(ctx context.Context) error {
	var resp connectResponse
	body := connectRequest{Email: c.creds.Email, Password: c.creds.Password, Mode: c.creds.Mode}
	if err := c.post(ctx, "/connect", body, &resp); err != nil {
		return fmt.Errorf("bridge.Connect: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("bridge.Connect: empty session token: %w", domain.ErrConnectionClosed)
	}
	c.setToken(resp.Token)
	slog.Info("bridge: session opened", "mode", resp.Mode, "balance", resp.Balance.StringFixed(2))
	return nil
}

// Probe hace un round-trip sin reintentos: el supervisor decide qué hacer.
func (c *Client) Probe(ctx context.Context) error {
	var resp probeResponse
	r := request{method: http.MethodGet, path: "/probe", limiter: c.limiter}
	if err := c.do(ctx, r, &resp); err != nil {
		return fmt.Errorf("bridge.Probe: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("bridge.Probe: session not alive: %w", domain.ErrConnectionClosed)
	}
	return nil
}

// SubmitOrder no se reintenta nunca: un reintento podría duplicar la orden.
func (c *Client) SubmitOrder(ctx context.Context, o domain.Order) (string, error) {
	body := orderRequest{
		Instrument: o.Instrument,
		Kind:       string(o.Kind),
		Direction:  strings.ToLower(string(o.Direction)),
		Amount:     o.Stake,
		Expiry:     o.Expiry,
	}
	var resp orderResponse
	if err := c.post(ctx, "/orders", body, &resp); err != nil {
		return "", fmt.Errorf("bridge.SubmitOrder: %w", err)
	}
	if resp.ID == "" {
		reason := resp.Reason
		if reason == "" {
			reason = resp.Status
		}
		return "", fmt.Errorf("bridge.SubmitOrder: %s: %w", reason, domain.ErrOrderRejected)
	}
	return resp.ID, nil
}

func (c *Client) PollResult(ctx context.Context, orderID string, kind domain.OptionKind) (domain.Settlement, error) {
	path := "/orders/" + url.PathEscape(orderID) + "?kind=" + url.QueryEscape(string(kind))
	var resp resultResponse
	if err := c.get(ctx, c.pollLimiter, path, &resp); err != nil {
		return domain.Settlement{}, fmt.Errorf("bridge.PollResult: %w", err)
	}
	if resp.Status != "closed" {
		return domain.Settlement{}, nil
	}
	return domain.Settlement{Settled: true, Profit: resp.Profit}, nil
}

// ListOpenInstruments ignora los kinds que no conoce.
func (c *Client) ListOpenInstruments(ctx context.Context) (map[domain.OptionKind][]string, error) {
	var resp instrumentsResponse
	if err := c.get(ctx, c.limiter, "/instruments", &resp); err != nil {
		return nil, fmt.Errorf("bridge.ListOpenInstruments: %w", err)
	}
	out := make(map[domain.OptionKind][]string, len(domain.Kinds))
	for _, kind := range domain.Kinds {
		if names, ok := resp.Instruments[string(kind)]; ok {
			out[kind] = names
		}
	}
	return out, nil
}

func (c *Client) ListAvailableExpiries(ctx context.Context, instrument string, kind domain.OptionKind) ([]int, error) {
	path := "/instruments/" + url.PathEscape(instrument) + "/expiries?kind=" + url.QueryEscape(string(kind))
	var resp expiriesResponse
	if err := c.get(ctx, c.limiter, path, &resp); err != nil {
		return nil, fmt.Errorf("bridge.ListAvailableExpiries: %w", err)
	}
	return resp.Expiries, nil
}

// Payout implementa ports.PayoutQuoter.
func (c *Client) Payout(ctx context.Context, instrument string, kind domain.OptionKind) (decimal.Decimal, error) {
	q := url.Values{"instrument": {instrument}, "kind": {string(kind)}}
	var resp payoutResponse
	if err := c.get(ctx, c.limiter, "/payout?"+q.Encode(), &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bridge.Payout: %w", err)
	}
	return resp.Payout, nil
}
