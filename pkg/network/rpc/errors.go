package rpc

import "errors"

var (
	// ErrRemote wraps an error message returned by the peer's handler.
	ErrRemote = errors.New("remote error")

	ErrEmptyResponse = errors.New("empty response")
)
