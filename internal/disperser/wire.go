package disperser

import (
	"fmt"
	"math"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/paymentstate"
)

// Wire messages exchanged with the disperser. Big integers travel as
// big-endian bytes and optional messages as nil pointers.

type paymentStateRequest struct {
	AccountID common.Address `json:"account_id"`
	Timestamp uint64         `json:"timestamp"`
	Signature []byte         `json:"signature"`
}

type reservationMsg struct {
	SymbolsPerSecond uint64   `json:"symbols_per_second"`
	StartTimestamp   uint64   `json:"start_timestamp"`
	EndTimestamp     uint64   `json:"end_timestamp"`
	QuorumNumbers    []uint32 `json:"quorum_numbers,omitempty"`
	QuorumSplits     []byte   `json:"quorum_splits,omitempty"`
}

type globalParamsMsg struct {
	MinNumSymbols         uint64   `json:"min_num_symbols"`
	PricePerSymbol        uint64   `json:"price_per_symbol"`
	ReservationWindow     uint64   `json:"reservation_window"`
	OnDemandQuorumNumbers []uint32 `json:"on_demand_quorum_numbers,omitempty"`
}

type paymentStateReply struct {
	PaymentGlobalParams      *globalParamsMsg `json:"payment_global_params,omitempty"`
	Reservation              *reservationMsg  `json:"reservation,omitempty"`
	CumulativePayment        []byte           `json:"cumulative_payment,omitempty"`
	OnchainCumulativePayment []byte           `json:"onchain_cumulative_payment,omitempty"`
}

type protocolConfigMsg struct {
	MinNumSymbols              uint64 `json:"min_num_symbols"`
	ReservationAdvanceWindow   uint64 `json:"reservation_advance_window"`
	ReservationRateLimitWindow uint64 `json:"reservation_rate_limit_window"`
	OnDemandRateLimitWindow    uint64 `json:"on_demand_rate_limit_window"`
	OnDemandEnabled            bool   `json:"on_demand_enabled"`
}

type quorumConfigMsg struct {
	ReservationSymbolsPerSecond uint64 `json:"reservation_symbols_per_second"`
	OnDemandSymbolsPerSecond    uint64 `json:"on_demand_symbols_per_second"`
	OnDemandPricePerSymbol      uint64 `json:"on_demand_price_per_symbol"`
}

type quorumPaymentStateReply struct {
	Reservations             map[uint32]reservationMsg    `json:"quorum_reservations,omitempty"`
	ProtocolConfigs          map[uint32]protocolConfigMsg `json:"quorum_protocol_configs,omitempty"`
	PaymentConfigs           map[uint32]quorumConfigMsg   `json:"quorum_payment_configs,omitempty"`
	OnDemandQuorumNumbers    []uint32                     `json:"on_demand_quorum_numbers,omitempty"`
	CumulativePayment        []byte                       `json:"cumulative_payment,omitempty"`
	OnchainCumulativePayment []byte                       `json:"onchain_cumulative_payment,omitempty"`
}

type commitmentMsg struct {
	Commitment       []byte `json:"commitment"`
	LengthCommitment []byte `json:"length_commitment"`
	LengthProof      []byte `json:"length_proof"`
	Length           uint32 `json:"length"`
}

type blobCommitmentRequest struct {
	Blob []byte `json:"blob"`
}

type blobCommitmentReply struct {
	BlobCommitment commitmentMsg `json:"blob_commitment"`
}

type paymentHeaderMsg struct {
	AccountID         common.Address `json:"account_id"`
	Timestamp         int64          `json:"timestamp"`
	CumulativePayment []byte         `json:"cumulative_payment,omitempty"`
}

type blobHeaderMsg struct {
	Version       uint16           `json:"version"`
	QuorumNumbers []uint32         `json:"quorum_numbers"`
	Commitment    commitmentMsg    `json:"commitment"`
	PaymentHeader paymentHeaderMsg `json:"payment_header"`
}

type disperseBlobRequest struct {
	Blob       []byte        `json:"blob"`
	BlobHeader blobHeaderMsg `json:"blob_header"`
	Signature  []byte        `json:"signature"`
}

type disperseBlobReply struct {
	Result  core.BlobStatus `json:"result"`
	BlobKey core.BlobKey    `json:"blob_key"`
}

type blobStatusRequest struct {
	BlobKey core.BlobKey `json:"blob_key"`
}

type blobStatusReply struct {
	Status core.BlobStatus `json:"status"`
}

func quorumFromWire(q uint32) (core.QuorumID, error) {
	if q > math.MaxUint8 {
		return 0, fmt.Errorf("%w: quorum %d out of range", ErrInvalidReply, q)
	}
	return core.QuorumID(q), nil
}

func quorumsFromWire(qs []uint32) ([]core.QuorumID, error) {
	out := make([]core.QuorumID, 0, len(qs))
	for _, q := range qs {
		id, err := quorumFromWire(q)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func quorumsToWire(qs []core.QuorumID) []uint32 {
	out := make([]uint32, len(qs))
	for i, q := range qs {
		out[i] = uint32(q)
	}
	return out
}

// amountFromWire decodes a big-endian amount. Empty means absent.
func amountFromWire(b []byte) (*uint256.Int, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) > 32 {
		return nil, fmt.Errorf("%w: amount of %d bytes", ErrInvalidReply, len(b))
	}
	return new(uint256.Int).SetBytes(b), nil
}

func amountToWire(v *uint256.Int) []byte {
	if v == nil || v.IsZero() {
		return nil
	}
	return v.Bytes()
}

// reservationFromWire treats zero start and end timestamps as no reservation.
func reservationFromWire(m *reservationMsg) (*core.ReservedPayment, error) {
	if m == nil || (m.StartTimestamp == 0 && m.EndTimestamp == 0) {
		return nil, nil
	}
	quorums, err := quorumsFromWire(m.QuorumNumbers)
	if err != nil {
		return nil, err
	}
	r := core.ReservedPayment{
		SymbolsPerSecond: m.SymbolsPerSecond,
		StartTimestamp:   m.StartTimestamp,
		EndTimestamp:     m.EndTimestamp,
		QuorumNumbers:    quorums,
		QuorumSplits:     m.QuorumSplits,
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReply, err)
	}
	return &r, nil
}

func reservationToWire(r core.ReservedPayment) reservationMsg {
	return reservationMsg{
		SymbolsPerSecond: r.SymbolsPerSecond,
		StartTimestamp:   r.StartTimestamp,
		EndTimestamp:     r.EndTimestamp,
		QuorumNumbers:    quorumsToWire(r.QuorumNumbers),
		QuorumSplits:     r.QuorumSplits,
	}
}

func (m paymentStateReply) toState() (*paymentstate.PaymentState, error) {
	var (
		state paymentstate.PaymentState
		err   error
	)
	if state.Reservation, err = reservationFromWire(m.Reservation); err != nil {
		return nil, err
	}
	if state.CumulativePayment, err = amountFromWire(m.CumulativePayment); err != nil {
		return nil, err
	}
	if state.OnchainCumulativePayment, err = amountFromWire(m.OnchainCumulativePayment); err != nil {
		return nil, err
	}
	if gp := m.PaymentGlobalParams; gp != nil {
		quorums, err := quorumsFromWire(gp.OnDemandQuorumNumbers)
		if err != nil {
			return nil, err
		}
		state.GlobalParams = &paymentstate.GlobalParams{
			MinNumSymbols:     gp.MinNumSymbols,
			PricePerSymbol:    gp.PricePerSymbol,
			ReservationWindow: gp.ReservationWindow,
			OnDemandQuorums:   quorums,
		}
	}
	return &state, nil
}

func paymentStateToWire(s *paymentstate.PaymentState) paymentStateReply {
	var m paymentStateReply
	if s == nil {
		return m
	}
	if s.Reservation != nil {
		r := reservationToWire(*s.Reservation)
		m.Reservation = &r
	}
	m.CumulativePayment = amountToWire(s.CumulativePayment)
	m.OnchainCumulativePayment = amountToWire(s.OnchainCumulativePayment)
	if gp := s.GlobalParams; gp != nil {
		m.PaymentGlobalParams = &globalParamsMsg{
			MinNumSymbols:         gp.MinNumSymbols,
			PricePerSymbol:        gp.PricePerSymbol,
			ReservationWindow:     gp.ReservationWindow,
			OnDemandQuorumNumbers: quorumsToWire(gp.OnDemandQuorums),
		}
	}
	return m
}

func (m quorumPaymentStateReply) toState() (*paymentstate.QuorumPaymentState, error) {
	state := paymentstate.QuorumPaymentState{
		Reservations:    make(map[core.QuorumID]core.ReservedPayment, len(m.Reservations)),
		ProtocolConfigs: make(map[core.QuorumID]core.PaymentQuorumProtocolConfig, len(m.ProtocolConfigs)),
		PaymentConfigs:  make(map[core.QuorumID]core.PaymentQuorumConfig, len(m.PaymentConfigs)),
	}
	for q, msg := range m.Reservations {
		id, err := quorumFromWire(q)
		if err != nil {
			return nil, err
		}
		r, err := reservationFromWire(&msg)
		if err != nil {
			return nil, err
		}
		if r != nil {
			state.Reservations[id] = *r
		}
	}
	for q, msg := range m.ProtocolConfigs {
		id, err := quorumFromWire(q)
		if err != nil {
			return nil, err
		}
		state.ProtocolConfigs[id] = core.PaymentQuorumProtocolConfig{
			MinNumSymbols:              msg.MinNumSymbols,
			ReservationAdvanceWindow:   msg.ReservationAdvanceWindow,
			ReservationRateLimitWindow: msg.ReservationRateLimitWindow,
			OnDemandRateLimitWindow:    msg.OnDemandRateLimitWindow,
			OnDemandEnabled:            msg.OnDemandEnabled,
		}
	}
	for q, msg := range m.PaymentConfigs {
		id, err := quorumFromWire(q)
		if err != nil {
			return nil, err
		}
		state.PaymentConfigs[id] = core.PaymentQuorumConfig{
			ReservationSymbolsPerSecond: msg.ReservationSymbolsPerSecond,
			OnDemandSymbolsPerSecond:    msg.OnDemandSymbolsPerSecond,
			OnDemandPricePerSymbol:      msg.OnDemandPricePerSymbol,
		}
	}

	var err error
	if state.OnDemandQuorums, err = quorumsFromWire(m.OnDemandQuorumNumbers); err != nil {
		return nil, err
	}
	if state.CumulativePayment, err = amountFromWire(m.CumulativePayment); err != nil {
		return nil, err
	}
	if state.OnchainCumulativePayment, err = amountFromWire(m.OnchainCumulativePayment); err != nil {
		return nil, err
	}
	return &state, nil
}

func quorumPaymentStateToWire(s *paymentstate.QuorumPaymentState) quorumPaymentStateReply {
	var m quorumPaymentStateReply
	if s == nil {
		return m
	}
	m.Reservations = make(map[uint32]reservationMsg, len(s.Reservations))
	for q, r := range s.Reservations {
		m.Reservations[uint32(q)] = reservationToWire(r)
	}
	m.ProtocolConfigs = make(map[uint32]protocolConfigMsg, len(s.ProtocolConfigs))
	for q, c := range s.ProtocolConfigs {
		m.ProtocolConfigs[uint32(q)] = protocolConfigMsg(c)
	}
	m.PaymentConfigs = make(map[uint32]quorumConfigMsg, len(s.PaymentConfigs))
	for q, c := range s.PaymentConfigs {
		m.PaymentConfigs[uint32(q)] = quorumConfigMsg(c)
	}
	m.OnDemandQuorumNumbers = quorumsToWire(slices.Sorted(slices.Values(s.OnDemandQuorums)))
	m.CumulativePayment = amountToWire(s.CumulativePayment)
	m.OnchainCumulativePayment = amountToWire(s.OnchainCumulativePayment)
	return m
}

func commitmentsToWire(c core.BlobCommitments) commitmentMsg {
	return commitmentMsg(c)
}

func headerToWire(h core.BlobHeader) blobHeaderMsg {
	return blobHeaderMsg{
		Version:       h.Version,
		QuorumNumbers: quorumsToWire(h.QuorumNumbers),
		Commitment:    commitmentsToWire(h.Commitments),
		PaymentHeader: paymentHeaderMsg{
			AccountID:         h.PaymentMetadata.AccountID,
			Timestamp:         h.PaymentMetadata.Timestamp,
			CumulativePayment: h.PaymentMetadata.CumulativePayment,
		},
	}
}

func (m blobHeaderMsg) toHeader() (core.BlobHeader, error) {
	quorums, err := quorumsFromWire(m.QuorumNumbers)
	if err != nil {
		return core.BlobHeader{}, err
	}
	payment := m.PaymentHeader.CumulativePayment
	if payment == nil {
		payment = []byte{}
	}
	return core.BlobHeader{
		Version:       m.Version,
		Commitments:   core.BlobCommitments(m.Commitment),
		QuorumNumbers: quorums,
		PaymentMetadata: core.PaymentMetadata{
			AccountID:         m.PaymentHeader.AccountID,
			Timestamp:         m.PaymentHeader.Timestamp,
			CumulativePayment: payment,
		},
	}, nil
}
