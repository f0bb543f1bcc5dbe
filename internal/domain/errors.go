package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrUpstreamStatus = errors.New("upstream status")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrTransport      = errors.New("transport failure")
	ErrLockHeld       = errors.New("lock already held")
	ErrInvalidInput   = errors.New("invalid input")
)
