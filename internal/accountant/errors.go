package accountant

import "errors"

var (
	// ErrOnDemandUnsupportedForQuorum is returned when reservation payment failed and a
	// requested quorum does not accept on-demand payment.
	ErrOnDemandUnsupportedForQuorum = errors.New("on-demand payment not supported for quorum")

	ErrNoQuorums = errors.New("no quorums requested")

	// ErrPaymentOverflow is returned when the cumulative payment would exceed 256 bits.
	ErrPaymentOverflow = errors.New("cumulative payment overflow")

	ErrInvalidPaymentConfig = errors.New("invalid payment config")
)
