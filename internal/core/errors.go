package core

import "errors"

var (
	ErrInvalidReservation = errors.New("invalid reservation")
	ErrInvalidBlobKey     = errors.New("invalid blob key")
)
