package domain

import "errors"

var (
	ErrGuildNotFound         = errors.New("guild not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrAlertNotFound         = errors.New("alert not found")
	ErrNoActiveStream        = errors.New("no active stream")
	ErrTransportClosed       = errors.New("transport closed")
	ErrUnknownPreset         = errors.New("unknown quality preset")
	ErrDuplicateSubscription = errors.New("subscription id already registered")
)
