package paymentstate

import "errors"

var (
	// ErrNoPaymentMethodAvailable is returned when the account has neither an active
	// reservation nor an on-demand deposit.
	ErrNoPaymentMethodAvailable = errors.New("no payment method available")

	// ErrPaymentStateFetchFailed wraps failures to query the disperser. The session
	// keeps its previous state.
	ErrPaymentStateFetchFailed = errors.New("payment state fetch failed")

	ErrSessionUninitialized = errors.New("payment session not initialized")

	ErrRefreshThrottled = errors.New("payment state refresh throttled")
)
