package round

import "errors"

var (
	// ErrWrongPhase rejects a request that arrived outside its permitted
	// phase. The request is dropped; round state is untouched.
	ErrWrongPhase = errors.New("request not allowed in the current phase")

	// ErrUnknownID rejects a lookup against the input-provider set that
	// found nothing.
	ErrUnknownID = errors.New("unknown registration id")

	// ErrValidation rejects amounts, scripts, or witnesses that fail checks.
	ErrValidation = errors.New("validation failed")

	// ErrExternalUnavailable marks a fee-estimator or exchange-rate failure.
	// The round continues on retained or fallback parameters.
	ErrExternalUnavailable = errors.New("external provider unavailable")
)
