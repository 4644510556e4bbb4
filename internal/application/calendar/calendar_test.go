package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	events []domain.NewsEvent
	err    error
}

func (f *fakeProvider) FetchEvents(context.Context) ([]domain.NewsEvent, error) {
	return f.events, f.err
}

var at = time.Date(2026, 3, 6, 13, 30, 0, 0, time.UTC)

func nfp() domain.NewsEvent {
	return domain.NewsEvent{Currency: "USD", Time: at, Impact: "High", Title: "Non-Farm Employment Change"}
}

func cfg() Config {
	return Config{Enabled: true, Before: 15 * time.Minute, After: 10 * time.Minute, MinImpact: 2}
}

func TestBlocked_InsideWindow(t *testing.T) {
	c := New(cfg(), &fakeProvider{events: []domain.NewsEvent{nfp()}}, nil)
	require.NoError(t, c.Refresh(context.Background()))

	ev, blocked := c.Blocked("EURUSD-OTC", at.Add(-5*time.Minute))
	assert.True(t, blocked)
	assert.Equal(t, "USD", ev.Currency)

	_, blocked = c.Blocked("EURUSD", at.Add(11*time.Minute))
	assert.False(t, blocked)

	_, blocked = c.Blocked("EURGBP", at)
	assert.False(t, blocked)
}

func TestBlocked_DisabledNeverBlocks(t *testing.T) {
	conf := cfg()
	conf.Enabled = false
	c := New(conf, nil, nil)
	c.SetEvents([]domain.NewsEvent{nfp()})

	_, blocked := c.Blocked("EURUSD", at)
	assert.False(t, blocked)
}

func TestSetEvents_FiltersLowImpact(t *testing.T) {
	c := New(cfg(), nil, nil)
	low := nfp()
	low.Impact = "Low"
	c.SetEvents([]domain.NewsEvent{low})

	assert.Empty(t, c.Windows())
	_, blocked := c.Blocked("EURUSD", at)
	assert.False(t, blocked)
}

func TestRefresh_FailureKeepsPreviousEvents(t *testing.T) {
	p := &fakeProvider{events: []domain.NewsEvent{nfp()}}
	c := New(cfg(), p, nil)
	require.NoError(t, c.Refresh(context.Background()))

	p.err = errors.New("feed down")
	assert.Error(t, c.Refresh(context.Background()))

	_, blocked := c.Blocked("USDJPY", at)
	assert.True(t, blocked)
}
