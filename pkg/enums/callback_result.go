package enums

// CallbackResult classifies how an inbound payment outcome was handled.
type CallbackResult string

const (
	CallbackResultAccepted          CallbackResult = "accepted"
	CallbackResultDuplicate         CallbackResult = "duplicate"
	CallbackResultPending           CallbackResult = "pending"
	CallbackResultAmountMismatch    CallbackResult = "amount_mismatch"
	CallbackResultInvalidTransition CallbackResult = "invalid_transition"
	CallbackResultConflict          CallbackResult = "conflict"
)

// NeedsReview reports whether a human has to look at the callback.
func (r CallbackResult) NeedsReview() bool {
	switch r {
	case CallbackResultAmountMismatch, CallbackResultInvalidTransition, CallbackResultConflict:
		return true
	default:
		return false
	}
}
