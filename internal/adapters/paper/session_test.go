package paper_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/binbot/internal/adapters/paper"
	"github.com/alejandrodnm/binbot/internal/application/executor"
	"github.com/alejandrodnm/binbot/internal/application/resolver"
	"github.com/alejandrodnm/binbot/internal/application/supervisor"
	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/domain/staking"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collect struct {
	mu     sync.Mutex
	trades []domain.TradeResult
}

func (c *collect) NotifyTrade(_ context.Context, r domain.TradeResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades = append(c.trades, r)
	return nil
}

func (c *collect) NotifyStatus(context.Context, domain.StatusEvent) error { return nil }

func (c *collect) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trades)
}

// Sesión completa sobre el broker simulado: supervisor, resolver y executor
// reales, con una caída de conexión en mitad de la espera de liquidación.
func TestPaperSession_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := paper.New(paper.Config{
		Balance:        decimal.NewFromInt(1000),
		WinProbability: 1,
		SpeedFactor:    600, // M1 → 100ms
		Seed:           1,
	})

	sup := supervisor.New(supervisor.Config{
		ProbeInterval: 5 * time.Millisecond,
		ProbeTimeout:  50 * time.Millisecond,
		Backoff:       []time.Duration{10 * time.Millisecond},
		MaxAttempts:   20,
		StopTimeout:   time.Second,
	}, broker, nil)
	require.NoError(t, sup.Connect(ctx))
	sup.Start(ctx)
	defer sup.Stop()

	cache := resolver.NewCache(broker, time.Minute)
	require.NoError(t, cache.Refresh(ctx))

	notes := &collect{}
	exec := executor.New(executor.Config{
		PollInterval:    5 * time.Millisecond,
		SettlementGrace: 500 * time.Millisecond,
		RestoreCeiling:  2 * time.Second,
		IdleWait:        5 * time.Millisecond,
		ExpiryUnit:      100 * time.Millisecond,
	}, executor.Deps{
		Broker:   broker,
		Resolver: resolver.New(cache, broker),
		Conn:     sup,
		Notifier: notes,
	})
	exec.Start(ctx)
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), time.Second)
		defer scancel()
		_ = exec.Shutdown(sctx)
	}()

	_, err := exec.StartSession(ctx, executor.SessionConfig{
		Policy: staking.Settings{
			Kind: staking.KindCycle,
			Cycle: staking.CycleConfig{
				BaseStake:        decimal.NewFromInt(10),
				MartingaleFactor: decimal.NewFromInt(2),
				MinStake:         decimal.NewFromInt(1),
				Profile:          staking.Aggressive,
			},
		},
		Stops:         domain.StopConditions{StopWin: decimal.NewFromInt(100)},
		DefaultPayout: decimal.RequireFromString("0.87"),
	})
	require.NoError(t, err)

	require.NoError(t, exec.Submit(domain.TradeRequest{
		SignalAsset:   "gbpusd",
		Direction:     domain.DirectionPut,
		ExpiryMinutes: 1,
	}))

	require.Eventually(t, func() bool {
		return broker.Balance().LessThan(decimal.NewFromInt(1000))
	}, time.Second, time.Millisecond)
	broker.DropConnection(50 * time.Millisecond)

	require.Eventually(t, func() bool { return notes.len() == 1 }, 3*time.Second, 5*time.Millisecond)

	notes.mu.Lock()
	res := notes.trades[0]
	notes.mu.Unlock()

	assert.True(t, res.Executed)
	assert.False(t, res.Assumed)
	assert.Equal(t, "GBPUSD", res.Asset)
	assert.Equal(t, "8.70", res.Profit.StringFixed(2))
	assert.True(t, sup.IsConnected())
	assert.Equal(t, "8.70", exec.Snapshot().CumulativeProfit.StringFixed(2))
}
