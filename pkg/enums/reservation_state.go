package enums

// ReservationState tracks a stock hold for one order item.
type ReservationState string

const (
	ReservationStateHeld      ReservationState = "HELD"
	ReservationStateCommitted ReservationState = "COMMITTED"
	ReservationStateReleased  ReservationState = "RELEASED"
)

var validReservationStates = []ReservationState{
	ReservationStateHeld,
	ReservationStateCommitted,
	ReservationStateReleased,
}

// IsValid reports whether the value is a known ReservationState.
func (s ReservationState) IsValid() bool {
	for _, candidate := range validReservationStates {
		if candidate == s {
			return true
		}
	}
	return false
}
