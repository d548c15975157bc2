package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrInvalidPrice   = errors.New("invalid price")
	ErrCrossedBook    = errors.New("crossed book")
	ErrInvalidChannel = errors.New("invalid channel")
	ErrRateLimited    = errors.New("rate limited")
	ErrLockHeld       = errors.New("lock held")
)
