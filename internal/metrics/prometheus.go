package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "aster_volume_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(value float64) {
	p.gauge.Set(value)
}

type Prometheus struct {
	Metrics *Metrics

	registry            *prometheus.Registry
	cyclesCompleted     prometheus.Counter
	ordersPlaced        prometheus.Counter
	ordersFailed        prometheus.Counter
	emergencyCloses     prometheus.Counter
	insufficientBalance prometheus.Counter
	hedgeImbalance      prometheus.Counter
	sessionPnl          prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cyclesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_completed_total",
		Help:      "Total number of completed trade cycles.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	emergencyCloses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "emergency_closes_total",
		Help:      "Total number of emergency close flows triggered.",
	})
	insufficientBalance := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "insufficient_balance_total",
		Help:      "Total number of cycles skipped for insufficient balance.",
	})
	hedgeImbalance := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "hedge_imbalance_total",
		Help:      "Total number of cycles that ended with unbalanced legs.",
	})
	sessionPnl := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "session_pnl_usdt",
		Help:      "Cumulative estimated session PnL in USDT.",
	})

	registry.MustRegister(cyclesCompleted, ordersPlaced, ordersFailed, emergencyCloses, insufficientBalance, hedgeImbalance, sessionPnl)

	m := &Metrics{
		CyclesCompleted:     promCounter{cyclesCompleted},
		OrdersPlaced:        promCounter{ordersPlaced},
		OrdersFailed:        promCounter{ordersFailed},
		EmergencyCloses:     promCounter{emergencyCloses},
		InsufficientBalance: promCounter{insufficientBalance},
		HedgeImbalance:      promCounter{hedgeImbalance},
		SessionPnl:          promGauge{sessionPnl},
	}

	return &Prometheus{
		Metrics:             m,
		registry:            registry,
		cyclesCompleted:     cyclesCompleted,
		ordersPlaced:        ordersPlaced,
		ordersFailed:        ordersFailed,
		emergencyCloses:     emergencyCloses,
		insufficientBalance: insufficientBalance,
		hedgeImbalance:      hedgeImbalance,
		sessionPnl:          sessionPnl,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
