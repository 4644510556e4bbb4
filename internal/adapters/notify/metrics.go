package notify

// metrics.go: métricas Prometheus del bot.
//
//   binbot_trades_total{outcome}            pasos de cadena por resultado (WIN|LOSS|BREAKEVEN|ABORTED)
//   binbot_assumed_losses_total             pérdidas asumidas sin confirmación del broker
//   binbot_stake_usd_total                  capital apostado
//   binbot_cumulative_profit_usd            P&L acumulado de la sesión
//   binbot_gale_level                       nivel de gale del último paso
//   binbot_status{component,status}         1 en el estado actual de cada componente
//   binbot_status_events_total{component,status}

import (
	"context"
	"net/http"
	"sync"

	"github.com/alejandrodnm/binbot/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implementa ports.Notifier actualizando métricas. Usa su propio
// registry para poder crear varias instancias (tests).
type Metrics struct {
	reg *prometheus.Registry

	trades       *prometheus.CounterVec
	assumed      prometheus.Counter
	staked       prometheus.Counter
	cumulative   prometheus.Gauge
	galeLevel    prometheus.Gauge
	status       *prometheus.GaugeVec
	statusEvents *prometheus.CounterVec

	mu      sync.Mutex
	current map[domain.Component]domain.Status
}

// NewMetrics registra las métricas en un registry nuevo.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binbot_trades_total",
				Help: "Chain steps by outcome",
			},
			[]string{"outcome"},
		),
		assumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "binbot_assumed_losses_total",
				Help: "Steps recorded as a loss without broker confirmation",
			},
		),
		staked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "binbot_stake_usd_total",
				Help: "Total stake placed in USD",
			},
		),
		cumulative: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "binbot_cumulative_profit_usd",
				Help: "Cumulative session profit in USD",
			},
		),
		galeLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "binbot_gale_level",
				Help: "Gale level of the last settled step",
			},
		),
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "binbot_status",
				Help: "Current status per component (1 = active)",
			},
			[]string{"component", "status"},
		),
		statusEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "binbot_status_events_total",
				Help: "Status transitions per component",
			},
			[]string{"component", "status"},
		),
		current: make(map[domain.Component]domain.Status),
	}
	m.reg.MustRegister(m.trades, m.assumed, m.staked, m.cumulative, m.galeLevel, m.status, m.statusEvents)
	return m
}

// Handler sirve /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// NotifyTrade implementa ports.Notifier.
func (m *Metrics) NotifyTrade(_ context.Context, r domain.TradeResult) error {
	m.trades.WithLabelValues(string(r.Outcome)).Inc()
	if !r.Executed {
		return nil
	}
	if r.Assumed {
		m.assumed.Inc()
	}
	m.staked.Add(r.StakeUsed.InexactFloat64())
	m.cumulative.Set(r.Cumulative.InexactFloat64())
	m.galeLevel.Set(float64(r.GaleLevel))
	return nil
}

// NotifyStatus implementa ports.Notifier.
func (m *Metrics) NotifyStatus(_ context.Context, ev domain.StatusEvent) error {
	comp := string(ev.Component)
	m.statusEvents.WithLabelValues(comp, string(ev.Status)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.current[ev.Component]; ok && prev != ev.Status {
		m.status.WithLabelValues(comp, string(prev)).Set(0)
	}
	m.current[ev.Component] = ev.Status
	m.status.WithLabelValues(comp, string(ev.Status)).Set(1)

	// una sesión nueva arranca con el P&L a cero
	if ev.Component == domain.ComponentEngine && ev.Status == domain.StatusRunning {
		m.cumulative.Set(0)
		m.galeLevel.Set(0)
	}
	return nil
}
