package domain

import "errors"

var (
	// ErrProviderUnavailable degrades one snapshot section to empty.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNotConnected means the user never linked the provider. It is not a
	// degradation: the section is simply empty.
	ErrNotConnected = errors.New("provider not connected")

	ErrGenerationTimeout = errors.New("generation timed out")
	ErrGenerationSchema  = errors.New("generation response violates schema")

	ErrChannelSend         = errors.New("channel send failed")
	ErrNoChannelConfigured = errors.New("no delivery channel configured")

	// ErrLedgerConflict is returned when a second delivered=true record is
	// written for the same (user, day).
	ErrLedgerConflict = errors.New("delivery already recorded for user and day")

	ErrUnknownUser = errors.New("unknown user")
)
