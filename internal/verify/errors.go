package verify

import "errors"

var (
	// ErrIllegalTransition is returned when a task operation is invoked
	// from a state it is not valid in. This is a programming error in the
	// caller, never retried.
	ErrIllegalTransition = errors.New("illegal verify task state transition")

	// ErrReceiptMissing is returned by Append when the queue holds no
	// receipt bytes. The caller must refresh the receipt and retry.
	ErrReceiptMissing = errors.New("receipt data is missing, refresh the receipt before appending")
)
