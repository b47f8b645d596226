package paymentstate

// Mode is the payment method selected by the last refresh.
type Mode uint8

const (
	ModeUninitialized Mode = iota
	ModeReservation
	ModeOnDemand
	ModeNone
)

func (m Mode) String() string {
	switch m {
	case ModeUninitialized:
		return "uninitialized"
	case ModeReservation:
		return "reservation"
	case ModeOnDemand:
		return "on_demand"
	case ModeNone:
		return "none"
	default:
		return "unknown"
	}
}

// Variant tells which accounting model backs the session.
type Variant uint8

const (
	VariantSimple Variant = iota
	VariantAdvanced
)

func (v Variant) String() string {
	if v == VariantAdvanced {
		return "advanced"
	}
	return "simple"
}
