package client

import "errors"

var (
	ErrNotFound      = errors.New("venue not found")
	ErrRateLimited   = errors.New("rate limited by service")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrRangeExceeded = errors.New("search range exceeded")
	ErrBadRequest    = errors.New("bad request")
)
