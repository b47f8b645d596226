package paymentstate

import (
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/eigerco/dispersal/internal/core"
)

var weiPerGwei = decimal.New(1, 9)

// Info summarizes the session for display.
type Info struct {
	PaymentType       string                `json:"payment_type"`
	Variant           string                `json:"variant"`
	HasReservation    bool                  `json:"has_reservation"`
	Reservation       *core.ReservedPayment `json:"reservation,omitempty"`
	ReservedQuorums   []core.QuorumID       `json:"reserved_quorums,omitempty"`
	OnDemandQuorums   []core.QuorumID       `json:"on_demand_quorums,omitempty"`
	CumulativePayment string                `json:"current_cumulative_payment,omitempty"`
	CumulativeGwei    string                `json:"current_cumulative_payment_gwei,omitempty"`
	PricePerSymbol    uint64                `json:"price_per_symbol,omitempty"`
	MinNumSymbols     uint64                `json:"min_symbols,omitempty"`
}

// WeiToGwei formats a wei amount in gwei with up to 9 decimals.
func WeiToGwei(wei string) (string, error) {
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return "", err
	}
	return d.Div(weiPerGwei).StringFixed(9), nil
}

func (s *Session) Info() Info {
	s.mu.RLock()
	mode, variant, reservation, advanced, cfg := s.mode, s.variant, s.reservation, s.advanced, s.config
	s.mu.RUnlock()

	info := Info{
		PaymentType: mode.String(),
		Variant:     variant.String(),
	}

	if variant == VariantAdvanced && advanced != nil {
		info.ReservedQuorums = slices.Sorted(maps.Keys(advanced.Reservations()))
		info.OnDemandQuorums = advanced.OnDemandQuorums()
		info.HasReservation = mode == ModeReservation
	} else if reservation != nil {
		r := *reservation
		info.Reservation = &r
		info.HasReservation = true
	}

	if mode == ModeOnDemand || (variant == VariantAdvanced && len(info.OnDemandQuorums) > 0) {
		wei := s.CumulativePayment().Dec()
		info.CumulativePayment = wei
		if gwei, err := WeiToGwei(wei); err == nil {
			info.CumulativeGwei = gwei
		}
		info.PricePerSymbol = cfg.PricePerSymbol
		info.MinNumSymbols = cfg.MinNumSymbols
	}
	return info
}
