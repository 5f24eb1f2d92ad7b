package domain

import "errors"

var (
	// ErrPrecondition is returned when the actor or the room state does not
	// allow the requested transition. Nothing is mutated.
	ErrPrecondition = errors.New("precondition violated")

	ErrInvalidSignature  = errors.New("invalid signature")
	ErrContractNotActive = errors.New("contract is not active")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyReleased   = errors.New("funds already released for contract")

	ErrRoomNotFound   = errors.New("room not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrWalletNotFound = errors.New("wallet not found")
	ErrRoomFull       = errors.New("room is full")

	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")

	// ErrConflict marks a write that lost against a concurrent transaction.
	ErrConflict = errors.New("concurrent modification")

	// ErrExternalService covers classifier, verifier and broker failures.
	ErrExternalService = errors.New("external service failure")
)

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrWalletNotFound)
}
