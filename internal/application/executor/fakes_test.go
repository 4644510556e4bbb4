package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/alejandrodnm/binbot/internal/domain/staking"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// outcome guía la respuesta del fakeBroker a una orden.
type outcome struct {
	profit    string
	reject    error
	noAck     bool          // SubmitOrder bloquea hasta que venza ctx
	dropPolls int           // primeros polls con ErrConnectionClosed
	never     bool          // nunca liquida
	hold      chan struct{} // liquida solo tras cerrarse
}

type fakeBroker struct {
	conn *fakeConn

	mu     sync.Mutex
	script []outcome
	orders []domain.Order
	byID   map[string]outcome
	polls  map[string]int
}

func newFakeBroker(script ...outcome) *fakeBroker {
	return &fakeBroker{
		script: script,
		byID:   make(map[string]outcome),
		polls:  make(map[string]int),
	}
}

func (f *fakeBroker) Connect(context.Context) error { return nil }
func (f *fakeBroker) Probe(context.Context) error   { return nil }

func (f *fakeBroker) ListOpenInstruments(context.Context) (map[domain.OptionKind][]string, error) {
	return nil, nil
}

func (f *fakeBroker) ListAvailableExpiries(context.Context, string, domain.OptionKind) ([]int, error) {
	return nil, nil
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, o domain.Order) (string, error) {
	f.mu.Lock()
	next := outcome{profit: "8.7"}
	if len(f.script) > 0 {
		next = f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()

	if next.noAck {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if next.reject != nil {
		return "", next.reject
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	id := fmt.Sprintf("order-%d", len(f.orders))
	f.byID[id] = next
	return id, nil
}

func (f *fakeBroker) PollResult(_ context.Context, id string, _ domain.OptionKind) (domain.Settlement, error) {
	f.mu.Lock()
	o := f.byID[id]
	f.polls[id]++
	n := f.polls[id]
	f.mu.Unlock()

	if n <= o.dropPolls {
		if f.conn != nil {
			f.conn.connected.Store(false)
		}
		return domain.Settlement{}, fmt.Errorf("poll %s: %w", id, domain.ErrConnectionClosed)
	}
	if o.never {
		return domain.Settlement{}, nil
	}
	if o.hold != nil {
		select {
		case <-o.hold:
		default:
			return domain.Settlement{}, nil
		}
	}
	return domain.Settlement{Settled: true, Profit: d(o.profit)}, nil
}

func (f *fakeBroker) Orders() []domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Order, len(f.orders))
	copy(out, f.orders)
	return out
}

// quotingBroker añade PayoutQuoter.
type quotingBroker struct {
	*fakeBroker
	payout decimal.Decimal
}

func (q *quotingBroker) Payout(context.Context, string, domain.OptionKind) (decimal.Decimal, error) {
	return q.payout, nil
}

type fakeConn struct {
	connected  atomic.Bool
	restorable atomic.Bool
	waits      atomic.Int32
	fatal      chan struct{}
}

func newFakeConn() *fakeConn {
	c := &fakeConn{fatal: make(chan struct{})}
	c.connected.Store(true)
	c.restorable.Store(true)
	return c
}

func (c *fakeConn) IsConnected() bool { return c.connected.Load() }

func (c *fakeConn) WaitForRestoration(ctx context.Context, timeout time.Duration) bool {
	c.waits.Add(1)
	if c.restorable.Load() {
		c.connected.Store(true)
		return true
	}
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
	}
	return false
}

func (c *fakeConn) Fatal() <-chan struct{} { return c.fatal }

type fakeResolver struct {
	fn func(asset string, expiry int) (domain.ResolvedAsset, error)
}

func (r *fakeResolver) Resolve(_ context.Context, asset string, expiry int) (domain.ResolvedAsset, error) {
	if r.fn != nil {
		return r.fn(asset, expiry)
	}
	return domain.ResolvedAsset{Name: domain.BaseSymbol(asset), Kind: domain.KindBinary}, nil
}

type blockAll struct{}

func (blockAll) Blocked(string, time.Time) (domain.NewsEvent, bool) {
	return domain.NewsEvent{Currency: "USD", Title: "CPI m/m", Impact: "High", Time: time.Now()}, true
}

type recorder struct {
	trades chan domain.TradeResult

	mu     sync.Mutex
	status []domain.StatusEvent
}

func newRecorder() *recorder {
	return &recorder{trades: make(chan domain.TradeResult, 64)}
}

func (r *recorder) NotifyTrade(_ context.Context, res domain.TradeResult) error {
	r.trades <- res
	return nil
}

func (r *recorder) NotifyStatus(_ context.Context, ev domain.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, ev)
	return nil
}

func (r *recorder) count(st domain.Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.status {
		if ev.Status == st {
			n++
		}
	}
	return n
}

func (r *recorder) next(t *testing.T) domain.TradeResult {
	t.Helper()
	select {
	case res := <-r.trades:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no trade result published")
		return domain.TradeResult{}
	}
}

func testConfig() Config {
	return Config{
		QueueSize:       8,
		AckTimeout:      200 * time.Millisecond,
		PollInterval:    time.Millisecond,
		SettlementGrace: 20 * time.Millisecond,
		RestoreCeiling:  50 * time.Millisecond,
		IdleWait:        5 * time.Millisecond,
		ExpiryUnit:      10 * time.Millisecond,
	}
}

func cycleSession(stopWin, stopLoss string) SessionConfig {
	return SessionConfig{
		Policy: staking.Settings{
			Kind: staking.KindCycle,
			Cycle: staking.CycleConfig{
				BaseStake:        d("10"),
				MartingaleFactor: d("2"),
				MinStake:         d("1"),
				Profile:          staking.Aggressive,
			},
		},
		Stops:         domain.StopConditions{StopWin: d(stopWin), StopLoss: d(stopLoss)},
		DefaultPayout: d("0.87"),
	}
}

type harness struct {
	exec     *Executor
	broker   *fakeBroker
	conn     *fakeConn
	rec      *recorder
	resolver *fakeResolver
}

func newHarness(t *testing.T, fb *fakeBroker) *harness {
	t.Helper()
	h := &harness{broker: fb, conn: newFakeConn(), rec: newRecorder(), resolver: &fakeResolver{}}
	fb.conn = h.conn
	h.exec = New(testConfig(), Deps{
		Broker:   fb,
		Resolver: h.resolver,
		Conn:     h.conn,
		Notifier: h.rec,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.exec.Shutdown(ctx)
	})
	return h
}

func req(asset string) domain.TradeRequest {
	return domain.TradeRequest{
		SignalAsset:   asset,
		Direction:     domain.DirectionCall,
		ExpiryMinutes: 1,
		Context:       map[string]string{"strategy": "test"},
	}
}
