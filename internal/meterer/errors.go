package meterer

import "errors"

var (
	// ErrNoReservationForQuorum is returned when a requested quorum has no reservation.
	ErrNoReservationForQuorum = errors.New("no reservation for quorum")

	// ErrNoProtocolConfigForQuorum is returned when a requested quorum has no protocol config.
	ErrNoProtocolConfigForQuorum = errors.New("no protocol config for quorum")

	// ErrReservationInactive is returned when the receipt time is outside the reservation.
	ErrReservationInactive = errors.New("reservation is not active")

	// ErrTimestampOutOfRange is returned when the declared request timestamp lies before
	// the reservation start or after its end.
	ErrTimestampOutOfRange = errors.New("timestamp out of reservation range")

	// ErrOutsideAdvanceWindow is returned when a request arrives earlier than the
	// advance window allows.
	ErrOutsideAdvanceWindow = errors.New("outside advance window")

	// ErrPeriodInPast is returned when the bin already holds a record of a later period.
	ErrPeriodInPast = errors.New("period is in the past")

	// ErrInsufficientCapacity is returned when the bin cannot absorb the requested symbols.
	ErrInsufficientCapacity = errors.New("insufficient reservation capacity")

	ErrInsufficientPaymentIncrement = errors.New("insufficient payment increment")
)
