package enums

// OutboxDLQErrorReason records why the publisher stopped retrying an outbox
// row and moved it to outbox_dlq.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts means the broker kept failing until the
	// attempt budget ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable means the broker rejected the message for
	// good, for example a missing topic or publisher.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonUndecodable means the row itself could not be turned
	// into an envelope: unknown event type or a payload that fails to decode.
	OutboxDLQReasonUndecodable OutboxDLQErrorReason = "undecodable_payload"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonUndecodable:
		return true
	default:
		return false
	}
}

// Replayable reports whether requeueing the row can succeed once the broker
// side is fixed. An undecodable row would dead-letter again unchanged.
func (r OutboxDLQErrorReason) Replayable() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
