package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu        sync.Mutex
	open      map[domain.OptionKind][]string
	listErr   error
	expiries  map[string][]int // "name|kind"
	expiryErr error
	calls     []string
}

func (f *fakeBroker) ListOpenInstruments(context.Context) (map[domain.OptionKind][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.open, nil
}

func (f *fakeBroker) ListAvailableExpiries(_ context.Context, name string, kind domain.OptionKind) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+"|"+string(kind))
	if f.expiryErr != nil {
		return nil, f.expiryErr
	}
	return f.expiries[name+"|"+string(kind)], nil
}

func newLoaded(t *testing.T, fb *fakeBroker) *Resolver {
	t.Helper()
	cache := NewCache(fb, time.Minute)
	require.NoError(t, cache.Refresh(context.Background()))
	return New(cache, fb)
}

func TestResolve_NotLoaded(t *testing.T) {
	fb := &fakeBroker{}
	r := New(NewCache(fb, time.Minute), fb)

	_, err := r.Resolve(context.Background(), "EURUSD", 1)
	assert.ErrorIs(t, err, domain.ErrInstrumentsNotLoaded)
}

func TestResolve_ExactMatch(t *testing.T) {
	fb := &fakeBroker{
		open:     map[domain.OptionKind][]string{domain.KindBinary: {"EURUSD"}},
		expiries: map[string][]int{"EURUSD|binary": {1, 5}},
	}
	r := newLoaded(t, fb)

	got, err := r.Resolve(context.Background(), "EURUSD", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolvedAsset{Name: "EURUSD", Kind: domain.KindBinary}, got)
}

func TestResolve_SuffixVariants(t *testing.T) {
	fb := &fakeBroker{
		open: map[domain.OptionKind][]string{
			domain.KindTurbo:  {"GBPUSD-op"},
			domain.KindBinary: {"EURJPY-OTC"},
		},
		expiries: map[string][]int{"GBPUSD-op|turbo": {1}},
	}
	r := newLoaded(t, fb)

	got, err := r.Resolve(context.Background(), "gbpusd", 1)
	require.NoError(t, err)
	assert.Equal(t, "GBPUSD-op", got.Name)
	assert.Equal(t, domain.KindTurbo, got.Kind)

	got, err = r.Resolve(context.Background(), "EURJPY", 15)
	require.NoError(t, err)
	assert.Equal(t, "EURJPY-OTC", got.Name)
	assert.True(t, got.OTC)
}

func TestResolve_OTCSkipsExpiryCheck(t *testing.T) {
	fb := &fakeBroker{
		open: map[domain.OptionKind][]string{domain.KindDigital: {"AUDCAD-OTC"}},
	}
	r := newLoaded(t, fb)

	_, err := r.Resolve(context.Background(), "AUDCAD-OTC", 3)
	require.NoError(t, err)
	assert.Empty(t, fb.calls)
}

func TestResolve_NormalizedPrefix(t *testing.T) {
	fb := &fakeBroker{
		open:     map[domain.OptionKind][]string{domain.KindDigital: {"EUR/USD"}},
		expiries: map[string][]int{"EUR/USD|digital": {5}},
	}
	r := newLoaded(t, fb)

	got, err := r.Resolve(context.Background(), "EURUSD-op", 5)
	require.NoError(t, err)
	assert.Equal(t, "EUR/USD", got.Name)
}

func TestResolve_ExpiryUnavailable(t *testing.T) {
	fb := &fakeBroker{
		open:     map[domain.OptionKind][]string{domain.KindBinary: {"EURUSD"}},
		expiries: map[string][]int{"EURUSD|binary": {5, 15}},
	}
	r := newLoaded(t, fb)

	_, err := r.Resolve(context.Background(), "EURUSD", 1)
	assert.ErrorIs(t, err, domain.ErrExpiryUnavailable)
}

func TestResolve_FallsBackToNextKind(t *testing.T) {
	fb := &fakeBroker{
		open: map[domain.OptionKind][]string{
			domain.KindTurbo:   {"EURUSD"},
			domain.KindDigital: {"EURUSD"},
		},
		expiries: map[string][]int{"EURUSD|turbo": {1}, "EURUSD|digital": {1, 5}},
	}
	r := newLoaded(t, fb)

	got, err := r.Resolve(context.Background(), "EURUSD", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.KindDigital, got.Kind)
}

func TestResolve_NotOpen(t *testing.T) {
	fb := &fakeBroker{
		open: map[domain.OptionKind][]string{domain.KindBinary: {"EURUSD"}},
	}
	r := newLoaded(t, fb)

	_, err := r.Resolve(context.Background(), "USDCHF", 1)
	assert.ErrorIs(t, err, domain.ErrAssetNotOpen)
}

func TestResolve_ConnectionDropDuringExpiryCheck(t *testing.T) {
	fb := &fakeBroker{
		open:      map[domain.OptionKind][]string{domain.KindBinary: {"EURUSD"}, domain.KindDigital: {"EURUSD"}},
		expiryErr: fmt.Errorf("read: %w", domain.ErrConnectionClosed),
	}
	r := newLoaded(t, fb)

	_, err := r.Resolve(context.Background(), "EURUSD", 1)
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
	assert.Len(t, fb.calls, 1)
}

func TestCache_FailedRefreshKeepsSnapshot(t *testing.T) {
	fb := &fakeBroker{open: map[domain.OptionKind][]string{domain.KindBinary: {"EURUSD"}}}
	cache := NewCache(fb, time.Minute)
	require.NoError(t, cache.Refresh(context.Background()))

	fb.mu.Lock()
	fb.listErr = errors.New("boom")
	fb.mu.Unlock()
	assert.Error(t, cache.Refresh(context.Background()))

	snap, err := cache.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Open.Has(domain.KindBinary, "EURUSD"))
}

func TestCache_RunRefreshesUntilCancelled(t *testing.T) {
	fb := &fakeBroker{open: map[domain.OptionKind][]string{domain.KindTurbo: {"EURUSD"}}}
	cache := NewCache(fb, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cache.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := cache.Snapshot()
		return err == nil
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
