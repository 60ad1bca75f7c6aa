package orders

import "github.com/angelmondragon/orderflow-backend/pkg/enums"

var successors = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed:  {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing: {enums.OrderStatusDelivered},
}

// CanTransition reports whether to is a direct successor of from.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Successors lists the statuses reachable in one step.
func Successors(from enums.OrderStatus) []enums.OrderStatus {
	out := make([]enums.OrderStatus, len(successors[from]))
	copy(out, successors[from])
	return out
}

// ValidWalk reports whether a timeline starts at PENDING and every following
// entry is a legal step from the previous one.
func ValidWalk(statuses []enums.OrderStatus) bool {
	if len(statuses) == 0 || statuses[0] != enums.OrderStatusPending {
		return false
	}
	for i := 1; i < len(statuses); i++ {
		if !CanTransition(statuses[i-1], statuses[i]) {
			return false
		}
	}
	return true
}
