package state

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the parent of every error caused by a malformed
	// sign-up, poll configuration or publication. The call that returns it
	// leaves the registry and its polls unchanged.
	ErrValidation = errors.New("validation error")
	// ErrInvalidBalance is returned by SignUp for negative balances or
	// balances above the configured maximum.
	ErrInvalidBalance = fmt.Errorf("%w: invalid voice credit balance", ErrValidation)
	// ErrInvalidPollParams is returned by DeployPoll.
	ErrInvalidPollParams = fmt.Errorf("%w: invalid poll parameters", ErrValidation)
	// ErrTooManyMessages is returned when publishing to a poll that reached
	// its maximum number of messages.
	ErrTooManyMessages = fmt.Errorf("%w: too many messages", ErrValidation)
	// ErrPollClosed is returned when publishing to a poll that is not open.
	ErrPollClosed = fmt.Errorf("%w: poll is closed", ErrValidation)

	// ErrSequencing is the parent of every error caused by calling a poll
	// operation out of the order of its state machine.
	ErrSequencing = errors.New("sequencing error")
	// ErrNotReady is returned when the poll is not in the state the
	// operation requires.
	ErrNotReady = fmt.Errorf("%w: poll not ready", ErrSequencing)
	// ErrNoMoreBatches is returned by ProcessMessages once every batch has
	// been processed.
	ErrNoMoreBatches = fmt.Errorf("%w: no more batches", ErrSequencing)

	// ErrPollNotFound is returned when looking up an unknown poll id.
	ErrPollNotFound = errors.New("poll not found")
)
