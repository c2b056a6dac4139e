package domain

import "errors"

// Error taxonomy shared by the gateway, watchers and executor.
var (
	// ErrNetwork is a transport/connection failure. Retried, never fatal.
	ErrNetwork = errors.New("network error")

	// ErrContractCall is a malformed query or a reverted call.
	ErrContractCall = errors.New("contract call error")

	// ErrUnderfunded means the signer cannot pay for the transaction.
	ErrUnderfunded = errors.New("insufficient funds")

	// ErrNonce means the transaction nonce was rejected.
	ErrNonce = errors.New("nonce error")

	// ErrAlreadyKnown means the node already holds this exact transaction.
	ErrAlreadyKnown = errors.New("transaction already known")

	// ErrSigning means the credential is missing or invalid. Engine-fatal.
	ErrSigning = errors.New("signing error")

	// ErrSubmission wraps every rejected transaction submission.
	ErrSubmission = errors.New("submission error")

	// ErrClaimed means another engine replica already claimed the execution.
	ErrClaimed = errors.New("execution claimed elsewhere")

	// ErrSubscriptionUnsupported is returned by transports without push notifications.
	ErrSubscriptionUnsupported = errors.New("subscriptions not supported")
)

// IsFatal reports whether err must halt the engine.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSigning)
}
