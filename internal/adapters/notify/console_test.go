package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/binbot/internal/adapters/notify"
	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.Notifier = (*notify.Console)(nil)
	_ ports.Notifier = (*notify.Metrics)(nil)
	_ ports.Notifier = (*notify.Hub)(nil)
	_ ports.Notifier = notify.Multi{}
)

func makeResult(profit string, gale int) domain.TradeResult {
	p := decimal.RequireFromString(profit)
	return domain.TradeResult{
		ID:          "trade-1",
		SessionID:   "session-1",
		SignalAsset: "EURUSD",
		Asset:       "EURUSD-op",
		Direction:   domain.DirectionCall,
		Expiry:      5,
		GaleLevel:   gale,
		StakeUsed:   decimal.NewFromInt(20),
		Profit:      p,
		Outcome:     domain.OutcomeFor(p),
		Executed:    true,
		Cumulative:  decimal.RequireFromString("7.40"),
		SettledAt:   time.Now(),
	}
}

func TestConsole_NotifyTrade(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	require.NoError(t, n.NotifyTrade(context.Background(), makeResult("17.40", 1)))

	out := buf.String()
	assert.Contains(t, out, "EURUSD-op")
	assert.Contains(t, out, "G1")
	assert.Contains(t, out, "WIN $17.40")
	assert.Contains(t, out, "acc $7.40")
}

func TestConsole_NotifyTrade_Aborted(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	r := makeResult("0", 0)
	r.Executed = false
	r.Reason = "asset not open"
	require.NoError(t, n.NotifyTrade(context.Background(), r))

	assert.Contains(t, buf.String(), "ABORTED: asset not open")
}

func TestConsole_NotifyStatus(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	ev := domain.NewStatus(domain.ComponentBroker, domain.StatusReconnecting, "attempt 1/5")
	require.NoError(t, n.NotifyStatus(context.Background(), ev))
	assert.Contains(t, buf.String(), "BROKER RECONNECTING: attempt 1/5")
}

func TestConsole_PrintReport(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	assumed := makeResult("-20", 2)
	assumed.Assumed = true
	ended := time.Now()
	sessions := []domain.SessionSummary{{
		ID:         "0123456789abcdef",
		Policy:     "cycle/aggressive",
		StartedAt:  ended.Add(-90 * time.Second),
		EndedAt:    &ended,
		StopReason: domain.StopWinReached,
		Trades:     2,
		Wins:       1,
		Losses:     1,
		Assumed:    1,
		NetProfit:  decimal.RequireFromString("-2.60"),
	}}

	n.PrintReport([]domain.TradeResult{makeResult("17.40", 1), assumed}, sessions)

	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "stop_win")
	assert.Contains(t, out, "LOSS*")
	assert.Contains(t, out, "$-2.60")
}

func TestConsole_PrintReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf).PrintReport(nil, nil)
	assert.Contains(t, buf.String(), "No trades journaled yet")
}
