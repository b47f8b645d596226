package accountant

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/meterer"
)

// Metrics reports accounting decisions. All methods are safe on a nil receiver.
type Metrics struct {
	payments          *prometheus.CounterVec
	fallbacks         *prometheus.CounterVec
	onDemandWei       prometheus.Counter
	cumulativePayment prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		payments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispersal_payments_total",
			Help: "Blobs accounted, by payment type",
		}, []string{"type"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispersal_reservation_fallbacks_total",
			Help: "Reservation attempts that fell back to on-demand, by reason",
		}, []string{"reason"}),
		onDemandWei: f.NewCounter(prometheus.CounterOpts{
			Name: "dispersal_on_demand_wei_total",
			Help: "Wei committed to on-demand payments",
		}),
		cumulativePayment: f.NewGauge(prometheus.GaugeOpts{
			Name: "dispersal_cumulative_payment_wei",
			Help: "Current cumulative on-demand payment",
		}),
	}
}

// ObservePayment counts one accounted blob. The increment is added to the on-demand total.
func (m *Metrics) ObservePayment(t core.PaymentType, increment *uint256.Int) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(t.String()).Inc()
	if t == core.PaymentTypeOnDemand && increment != nil {
		m.onDemandWei.Add(toFloat(increment))
	}
}

func (m *Metrics) fallback(err error) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(fallbackReason(err)).Inc()
}

func (m *Metrics) setCumulative(v *uint256.Int) {
	if m == nil {
		return
	}
	m.cumulativePayment.Set(toFloat(v))
}

func toFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, meterer.ErrNoReservationForQuorum):
		return "no_reservation"
	case errors.Is(err, meterer.ErrNoProtocolConfigForQuorum):
		return "no_protocol_config"
	case errors.Is(err, meterer.ErrReservationInactive):
		return "inactive"
	case errors.Is(err, meterer.ErrTimestampOutOfRange):
		return "timestamp_out_of_range"
	case errors.Is(err, meterer.ErrOutsideAdvanceWindow):
		return "outside_advance_window"
	case errors.Is(err, meterer.ErrPeriodInPast):
		return "period_in_past"
	case errors.Is(err, meterer.ErrInsufficientCapacity):
		return "insufficient_capacity"
	default:
		return "other"
	}
}
