package repository

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrAttemptCompleted    = errors.New("attempt already completed")
)
