package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("dial tcp: connection refused")

// fakeSession decide cada Probe/Connect con funciones inyectadas.
type fakeSession struct {
	probe    func(n int64) error
	connect  func(n int64) error
	probes   atomic.Int64
	connects atomic.Int64
}

func (f *fakeSession) Probe(context.Context) error {
	n := f.probes.Add(1)
	if f.probe == nil {
		return nil
	}
	return f.probe(n)
}

func (f *fakeSession) Connect(context.Context) error {
	n := f.connects.Add(1)
	if f.connect == nil {
		return nil
	}
	return f.connect(n)
}

type recordingNotifier struct {
	mu     sync.Mutex
	status []domain.StatusEvent
}

func (r *recordingNotifier) NotifyTrade(context.Context, domain.TradeResult) error { return nil }

func (r *recordingNotifier) NotifyStatus(_ context.Context, ev domain.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, ev)
	return nil
}

func (r *recordingNotifier) has(st domain.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.status {
		if ev.Status == st {
			return true
		}
	}
	return false
}

func fastConfig(maxAttempts int) Config {
	return Config{
		ProbeInterval: 5 * time.Millisecond,
		ProbeTimeout:  50 * time.Millisecond,
		Backoff:       []time.Duration{time.Millisecond, 2 * time.Millisecond},
		MaxAttempts:   maxAttempts,
		StopTimeout:   time.Second,
	}
}

func TestSupervisor_CriticalAfterMaxAttempts(t *testing.T) {
	sess := &fakeSession{
		probe:   func(int64) error { return errDown },
		connect: func(n int64) error { return errDown },
	}
	rec := &recordingNotifier{}
	s := New(fastConfig(3), sess, rec)

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-s.Fatal():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never reached critical failure")
	}

	st := s.State()
	assert.True(t, st.Critical)
	assert.False(t, st.Connected)
	assert.Equal(t, 3, st.Attempts)

	// nunca más reintentos
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(3), sess.connects.Load())
	assert.True(t, rec.has(domain.StatusCritical))
	assert.False(t, s.WaitForRestoration(context.Background(), 10*time.Millisecond))
}

func TestSupervisor_ProbeFailsOnceThenRecovers(t *testing.T) {
	sess := &fakeSession{
		probe: func(n int64) error {
			if n == 1 {
				return errDown
			}
			return nil
		},
		connect: func(n int64) error {
			if n == 1 {
				return nil // conexión inicial
			}
			return errDown
		},
	}
	cfg := fastConfig(5)
	cfg.Backoff = []time.Duration{20 * time.Millisecond}
	s := New(cfg, sess, nil)

	require.NoError(t, s.Connect(context.Background()))
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return sess.probes.Load() >= 2 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		st := s.State()
		return st.Connected && st.Attempts == 0
	}, time.Second, time.Millisecond)
}

func TestSupervisor_ReconnectResetsAttempts(t *testing.T) {
	var down atomic.Bool
	sess := &fakeSession{
		probe: func(int64) error {
			if down.Load() {
				return errDown
			}
			return nil
		},
		connect: func(n int64) error {
			switch n {
			case 1:
				return nil
			case 2:
				return errDown
			}
			down.Store(false)
			return nil
		},
	}
	s := New(fastConfig(5), sess, nil)
	require.NoError(t, s.Connect(context.Background()))

	down.Store(true)
	s.Start(context.Background())
	defer s.Stop()

	assert.True(t, s.WaitForRestoration(context.Background(), time.Second) || s.IsConnected())
	assert.Eventually(t, func() bool {
		st := s.State()
		return st.Connected && st.Attempts == 0 && !st.Reconnecting
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, sess.connects.Load(), int64(3))
}

func TestSupervisor_WaitForRestorationTimesOut(t *testing.T) {
	s := New(fastConfig(5), &fakeSession{}, nil)

	start := time.Now()
	assert.False(t, s.WaitForRestoration(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Connect(context.Background())
	}()
	assert.True(t, s.WaitForRestoration(context.Background(), time.Second))
}

func TestSupervisor_WaitForRestorationHonoursContext(t *testing.T) {
	s := New(fastConfig(5), &fakeSession{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.WaitForRestoration(ctx, time.Second))
}

func TestSupervisor_StartIsIdempotentAndStopBounded(t *testing.T) {
	sess := &fakeSession{}
	s := New(fastConfig(5), sess, nil)
	require.NoError(t, s.Connect(context.Background()))

	s.Start(context.Background())
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return sess.probes.Load() > 0 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	n := sess.probes.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sess.probes.Load())
}

func TestSupervisor_SingleFlightReconnect(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	sess := &fakeSession{
		probe: func(int64) error { return errDown },
		connect: func(n int64) error {
			if n == 1 {
				return nil
			}
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := maxInFlight.Load()
				if cur <= old || maxInFlight.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return errDown
		},
	}
	s := New(fastConfig(4), sess, nil)
	require.NoError(t, s.Connect(context.Background()))
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-s.Fatal():
	case <-time.After(2 * time.Second):
		t.Fatal("expected critical failure")
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int64(5), sess.connects.Load())
}

func TestSupervisor_LateSuccessKeepsCriticalAttempts(t *testing.T) {
	var up atomic.Bool
	sess := &fakeSession{
		probe: func(int64) error { return errDown },
		connect: func(int64) error {
			if up.Load() {
				return nil
			}
			return errDown
		},
	}
	s := New(fastConfig(2), sess, &recordingNotifier{})
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-s.Fatal():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never reached critical failure")
	}

	up.Store(true)
	require.NoError(t, s.Connect(context.Background()))

	st := s.State()
	assert.True(t, st.Critical)
	assert.False(t, st.Connected)
	assert.Equal(t, 2, st.Attempts)
}
