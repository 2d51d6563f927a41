package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	ErrBridgeClosed     = errors.New("relay bridge closed")
	ErrUnknownBackend   = errors.New("unknown relay backend")
	ErrGroupLimit       = errors.New("group limit reached")
)
