package compose

import "errors"

var (
	// ErrSequence reports a build stage invoked out of order. This is a
	// programmer error; construction aborts immediately.
	ErrSequence = errors.New("message build stage out of order")

	// ErrInvalidSender reports a real sender address that failed syntax
	// validation while true-address display was requested.
	ErrInvalidSender = errors.New("sender address failed validation")
)
