package accountant

import (
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/meterer"
)

const (
	testNow    = uint64(1_700_000_000)
	testWindow = uint64(3600)
	testSPS    = uint64(1000)
)

var testTimestamp = time.Unix(int64(testNow), 0).UnixNano()

func testState(quorums ...core.QuorumID) State {
	s := State{
		Reservations:    make(map[core.QuorumID]core.ReservedPayment),
		ProtocolConfigs: make(map[core.QuorumID]core.PaymentQuorumProtocolConfig),
		PaymentConfigs:  make(map[core.QuorumID]core.PaymentQuorumConfig),
	}
	for _, q := range quorums {
		s.Reservations[q] = core.ReservedPayment{
			SymbolsPerSecond: testSPS,
			StartTimestamp:   testNow - 3600,
			EndTimestamp:     testNow + 3600,
			QuorumNumbers:    quorums,
		}
		s.ProtocolConfigs[q] = core.PaymentQuorumProtocolConfig{
			MinNumSymbols:              4096,
			ReservationAdvanceWindow:   60,
			ReservationRateLimitWindow: testWindow,
			OnDemandEnabled:            true,
		}
		s.PaymentConfigs[q] = core.PaymentQuorumConfig{
			ReservationSymbolsPerSecond: testSPS,
			OnDemandPricePerSymbol:      DefaultPricePerSymbol,
		}
	}
	return s
}

func newTestReservation(t *testing.T, state State, opts ...Option) *Reservation {
	a, err := NewReservation(testAccount, state, DefaultPaymentConfig(), opts...)
	require.NoError(t, err)
	return a
}

func binLimit() uint64 {
	return meterer.BinLimit(testSPS, testWindow, meterer.MinNumBins)
}

func TestReservationSuccess(t *testing.T) {
	a := newTestReservation(t, testState(0, 1))

	payment, err := a.AccountBlob(4096, []core.QuorumID{0, 1}, testTimestamp)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentTypeReservation, payment.Type)
	assert.Empty(t, payment.Value)
	assert.True(t, payment.Increment.IsZero())

	period := meterer.PeriodOf(testTimestamp, testWindow)
	for _, q := range []core.QuorumID{0, 1} {
		assert.Equal(t, []core.PeriodRecord{{Index: period, Usage: 4096}}, a.GetPeriodRecords(q))
	}
	assert.True(t, a.CumulativePayment().IsZero())
}

func TestOnDemandFallback(t *testing.T) {
	state := testState(0)
	state.OnDemandQuorums = []core.QuorumID{0, 1}
	a := newTestReservation(t, state)
	a.SetCumulativePayment(uint256.NewInt(500))

	// one byte more than the bin can hold
	dataLen := (binLimit() + 1) * meterer.BytesPerFieldElement
	payment, err := a.AccountBlob(dataLen, []core.QuorumID{0}, testTimestamp)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentTypeOnDemand, payment.Type)

	symbols := meterer.SymbolsCharged(meterer.SymbolsFor(dataLen), DefaultMinNumSymbols)
	increment := meterer.PaymentCharged(symbols, DefaultPricePerSymbol)
	want := new(uint256.Int).Add(uint256.NewInt(500), increment)
	assert.Equal(t, increment, payment.Increment)
	assert.Equal(t, want.Bytes(), payment.Value)
	assert.Equal(t, want, a.CumulativePayment(), "on-demand commits immediately")
	assert.Empty(t, a.GetPeriodRecords(0))
}

func TestOnDemandUnsupportedForQuorum(t *testing.T) {
	state := testState(0)
	state.OnDemandQuorums = []core.QuorumID{0}
	a := newTestReservation(t, state)

	_, err := a.AccountBlob(4096, []core.QuorumID{0, 5}, testTimestamp)
	require.ErrorIs(t, err, ErrOnDemandUnsupportedForQuorum)
	assert.Contains(t, err.Error(), "quorum 5")
	assert.True(t, a.CumulativePayment().IsZero())
	assert.Empty(t, a.GetPeriodRecords(0))
}

func TestReservationRollbackAtomicity(t *testing.T) {
	state := testState(0, 1)
	state.OnDemandQuorums = []core.QuorumID{0, 1}
	a := newTestReservation(t, state)

	// fill quorum 1 to one symbol under its limit
	period := meterer.PeriodOf(testTimestamp, testWindow)
	res := state.Reservations[1]
	records, err := meterer.ValidateAndCharge(res, state.ProtocolConfigs[1], nil, testTimestamp, binLimit()-1)
	require.NoError(t, err)
	a.mu.Lock()
	a.periodRecords[1] = records
	a.mu.Unlock()

	payment, err := a.AccountBlob(4096, []core.QuorumID{0, 1}, testTimestamp)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentTypeOnDemand, payment.Type)

	assert.Empty(t, a.GetPeriodRecords(0), "quorum 0 must not keep the attempted charge")
	assert.Equal(t, []core.PeriodRecord{{Index: period, Usage: binLimit() - 1}}, a.GetPeriodRecords(1))
}

func TestReservationMissingQuorumFallsBack(t *testing.T) {
	state := testState(0)
	state.OnDemandQuorums = []core.QuorumID{0, 1}
	a := newTestReservation(t, state)

	payment, err := a.AccountBlob(100, []core.QuorumID{0, 1}, testTimestamp)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentTypeOnDemand, payment.Type)
	assert.Empty(t, a.GetPeriodRecords(0))
}

func TestReservationInactiveFallsBack(t *testing.T) {
	state := testState(0)
	state.OnDemandQuorums = []core.QuorumID{0}
	a := newTestReservation(t, state)

	later := time.Unix(int64(testNow+7200), 0).UnixNano()
	payment, err := a.AccountBlob(100, []core.QuorumID{0}, later)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentTypeOnDemand, payment.Type)
}

func TestAccountBlobNoQuorums(t *testing.T) {
	a := newTestReservation(t, testState(0))
	_, err := a.AccountBlob(100, nil, testTimestamp)
	assert.ErrorIs(t, err, ErrNoQuorums)
}

func TestCumulativeMonotonicity(t *testing.T) {
	state := State{OnDemandQuorums: []core.QuorumID{0}}
	a := newTestReservation(t, state)

	seed := uint256.NewInt(12345)
	a.SetCumulativePayment(seed)

	sum := new(uint256.Int).Set(seed)
	prev := new(uint256.Int).Set(seed)
	for _, size := range []uint64{1, 31, 4096, 31 * 4096, 31*4096 + 1, 1 << 20} {
		payment, err := a.AccountBlob(size, []core.QuorumID{0}, testTimestamp)
		require.NoError(t, err)
		require.Equal(t, core.PaymentTypeOnDemand, payment.Type)

		sum.Add(sum, payment.Increment)
		current := new(uint256.Int).SetBytes(payment.Value)
		assert.False(t, current.Lt(prev))
		prev = current
	}
	assert.Equal(t, sum, a.CumulativePayment())
}

func TestReplaceState(t *testing.T) {
	state := testState(0, 1)
	a := newTestReservation(t, state)

	_, err := a.AccountBlob(4096, []core.QuorumID{0, 1}, testTimestamp)
	require.NoError(t, err)

	next := testState(1)
	next.OnDemandQuorums = []core.QuorumID{2, 0}
	a.ReplaceState(next)

	assert.False(t, a.HasReservation(0))
	assert.True(t, a.HasReservation(1))
	assert.Empty(t, a.GetPeriodRecords(0), "records of removed reservation are dropped")
	assert.NotEmpty(t, a.GetPeriodRecords(1))
	assert.Equal(t, []core.QuorumID{0, 2}, a.OnDemandQuorums())
	assert.Len(t, a.Reservations(), 1)

	cfg, ok := a.QuorumPaymentConfig(1)
	require.True(t, ok)
	assert.Equal(t, testSPS, cfg.ReservationSymbolsPerSecond)
	_, ok = a.QuorumPaymentConfig(0)
	assert.False(t, ok)
}

func TestReservationStateIsCopied(t *testing.T) {
	state := testState(0)
	a := newTestReservation(t, state)

	delete(state.Reservations, 0)
	assert.True(t, a.HasReservation(0))

	_, err := a.AccountBlob(4096, []core.QuorumID{0}, testTimestamp)
	require.NoError(t, err)
	records := a.GetPeriodRecords(0)
	require.Len(t, records, 1)
	records[0].Usage = 0
	assert.Equal(t, uint64(4096), a.GetPeriodRecords(0)[0].Usage)
}

func TestReservationConcurrentAccounting(t *testing.T) {
	state := testState(0)
	state.OnDemandQuorums = []core.QuorumID{0}
	a := newTestReservation(t, state)

	// each blob charges the 4096 symbol minimum; the bin holds binLimit()/4096 of them
	const workers, perWorker = 8, 500
	fits := binLimit() / 4096

	var wg sync.WaitGroup
	var mu sync.Mutex
	var reservation, onDemand uint64
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				p, err := a.AccountBlob(100, []core.QuorumID{0}, testTimestamp)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				if p.Type == core.PaymentTypeReservation {
					reservation++
				} else {
					onDemand++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, fits, reservation)
	assert.Equal(t, uint64(workers*perWorker)-fits, onDemand)

	records := a.GetPeriodRecords(0)
	require.Len(t, records, 1)
	assert.Equal(t, fits*4096, records[0].Usage)

	want := new(uint256.Int).Mul(uint256.NewInt(onDemand), DefaultPaymentConfig().Increment(100))
	assert.Equal(t, want, a.CumulativePayment())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	state := testState(0)
	state.OnDemandQuorums = []core.QuorumID{0, 1}
	a := newTestReservation(t, state, WithMetrics(m))

	_, err := a.AccountBlob(100, []core.QuorumID{0}, testTimestamp)
	require.NoError(t, err)
	_, err = a.AccountBlob(100, []core.QuorumID{1}, testTimestamp)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.payments.WithLabelValues("reservation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payments.WithLabelValues("on_demand")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("no_reservation")))
	assert.Equal(t, float64(4096*447000000), testutil.ToFloat64(m.onDemandWei))
	assert.Equal(t, float64(4096*447000000), testutil.ToFloat64(m.cumulativePayment))
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.payment(core.PaymentTypeOnDemand, uint256.NewInt(1))
	m.fallback(meterer.ErrPeriodInPast)
	m.setCumulative(uint256.NewInt(1))
}

func TestFallbackReason(t *testing.T) {
	assert.Equal(t, "insufficient_capacity", fallbackReason(meterer.ErrInsufficientCapacity))
	assert.Equal(t, "period_in_past", fallbackReason(meterer.ErrPeriodInPast))
	assert.Equal(t, "other", fallbackReason(assert.AnError))
}

func TestAccountOnDemandSkipsReservation(t *testing.T) {
	state := testState(0)
	state.OnDemandQuorums = []core.QuorumID{0}
	a := newTestReservation(t, state)

	payment, err := a.AccountOnDemand(4096, []core.QuorumID{0})
	require.NoError(t, err)
	assert.Equal(t, core.PaymentTypeOnDemand, payment.Type)
	assert.Empty(t, a.GetPeriodRecords(0))

	_, err = a.AccountOnDemand(4096, []core.QuorumID{3})
	assert.ErrorIs(t, err, ErrOnDemandUnsupportedForQuorum)

	_, err = a.AccountOnDemand(4096, nil)
	assert.ErrorIs(t, err, ErrNoQuorums)
}
