package disperser

import "errors"

var (
	ErrEmptyData       = errors.New("blob data is empty")
	ErrBlobKeyMismatch = errors.New("disperser returned a different blob key")
	ErrInvalidReply    = errors.New("invalid disperser reply")
	ErrUnauthorized    = errors.New("request signature does not match account")
)

// reservationRejected is the rejection message that triggers an on-demand retry.
const reservationRejected = "not a valid active reservation"
