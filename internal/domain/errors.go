package domain

import "errors"

var (
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidSenderType = errors.New("invalid sender type")
	ErrEmptyContent      = errors.New("empty content")
	ErrMessageTooLarge   = errors.New("message too large")
	ErrMissingRecipient  = errors.New("missing recipient")
	ErrMissingSender     = errors.New("missing sender id")
)
