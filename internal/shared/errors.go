package shared

import "errors"

// Error taxonomy shared by every domain package. Package level errors wrap
// one of these so callers can match on either.
var (
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a state machine rejected a transition.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInsufficientStock indicates an outbound movement exceeding stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOverReceipt indicates receiving more than was ordered.
	ErrOverReceipt = errors.New("over receipt")
	// ErrDuplicateReference indicates a unique identifier collision.
	ErrDuplicateReference = errors.New("duplicate reference")
	// ErrConflict indicates a concurrent modification.
	ErrConflict = errors.New("concurrent modification")
	// ErrInvariant indicates persisted state violates a ledger invariant.
	ErrInvariant = errors.New("invariant violated")
)

// Stable error codes exposed to clients.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_STATE_TRANSITION"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeOverReceipt       = "OVER_RECEIPT"
	CodeDuplicate         = "DUPLICATE_REFERENCE"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrValidation, CodeValidation},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrInsufficientStock, CodeInsufficientStock},
	{ErrOverReceipt, CodeOverReceipt},
	{ErrDuplicateReference, CodeDuplicate},
	{ErrConflict, CodeConflict},
}

// Code returns the stable code for err. Unknown errors and invariant
// violations map to CodeInternal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
