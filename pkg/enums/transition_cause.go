package enums

import "fmt"

// TransitionCause records which producer drove a status change.
type TransitionCause string

const (
	CauseGatewayWebhook TransitionCause = "GATEWAY_WEBHOOK"
	CausePollResolution TransitionCause = "POLL_RESOLUTION"
	CauseAdminOverride  TransitionCause = "ADMIN_OVERRIDE"
	CauseCustomerAction TransitionCause = "CUSTOMER_ACTION"
)

var validTransitionCauses = []TransitionCause{
	CauseGatewayWebhook,
	CausePollResolution,
	CauseAdminOverride,
	CauseCustomerAction,
}

// IsValid reports whether the value is a known TransitionCause.
func (c TransitionCause) IsValid() bool {
	for _, candidate := range validTransitionCauses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsAutomated reports whether the cause has no human actor.
func (c TransitionCause) IsAutomated() bool {
	return c == CauseGatewayWebhook || c == CausePollResolution
}

// ParseTransitionCause converts raw input into a TransitionCause.
func ParseTransitionCause(value string) (TransitionCause, error) {
	for _, candidate := range validTransitionCauses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transition cause %q", value)
}
