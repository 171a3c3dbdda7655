package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(value float64)
}

type Metrics struct {
	CyclesCompleted     Counter
	OrdersPlaced        Counter
	OrdersFailed        Counter
	EmergencyCloses     Counter
	InsufficientBalance Counter
	HedgeImbalance      Counter
	SessionPnl          Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesCompleted:     n,
		OrdersPlaced:        n,
		OrdersFailed:        n,
		EmergencyCloses:     n,
		InsufficientBalance: n,
		HedgeImbalance:      n,
		SessionPnl:          noopGauge{},
	}
}
