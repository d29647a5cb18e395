package domain

import "errors"

var (
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
	ErrInvalidID      = errors.New("invalid id")
)
