package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when an address holds no account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrBlockhashNotFound is returned when a blockhash is unknown or expired.
	ErrBlockhashNotFound = errors.New("ledger: blockhash not found")
	// ErrNonceMismatch is returned when a transaction's durable nonce no longer
	// matches the nonce account. Fatal for that payload.
	ErrNonceMismatch = errors.New("ledger: durable nonce mismatch")
	// ErrAlreadyProcessed is returned for a transaction the ledger has already applied.
	ErrAlreadyProcessed = errors.New("ledger: transaction already processed")
	// ErrBusy is a transient refusal; the same payload may be resent.
	ErrBusy = errors.New("ledger: node busy")
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("ledger: invalid transaction signature")
)

// TransactionError describes why the ledger failed to execute a transaction.
type TransactionError struct {
	InstructionIndex int    `json:"instructionIndex"`
	Reason           string `json:"reason"`
}

func (e *TransactionError) Error() string {
	if e.InstructionIndex < 0 {
		return "transaction failed: " + e.Reason
	}
	return fmt.Sprintf("transaction failed at instruction %d: %s", e.InstructionIndex, e.Reason)
}

// TransientError marks an error as safe to retry with the same payload.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed if the same payload is resent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	return errors.As(err, &transient) || errors.Is(err, ErrBusy)
}
