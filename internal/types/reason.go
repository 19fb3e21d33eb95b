package types

// LogReason explains an inventory movement. Values 1-9 are additions, 11-19
// are removals, and ReasonStock marks a stock-taking correction whose delta
// is computed rather than entered.
type LogReason int

const (
	ReasonUnknown   LogReason = 0
	ReasonBought    LogReason = 1
	ReasonExisting  LogReason = 2
	ReasonGift      LogReason = 3
	ReasonConsumed  LogReason = 11
	ReasonGivenAway LogReason = 12
	ReasonLost      LogReason = 13
	ReasonStock     LogReason = 20
)

// IsValidReasonFor reports whether a reason code is acceptable for the given
// delta: positive deltas take addition reasons, negative deltas take removal
// reasons, and a zero delta only pairs with an unknown reason.
func IsValidReasonFor(reason LogReason, delta int) bool {
	if delta > 0 {
		return reason > 0 && reason < 10
	}
	if delta < 0 {
		return reason > 10 && reason < 20
	}
	return reason == ReasonUnknown
}

func (r LogReason) String() string {
	switch r {
	case ReasonUnknown:
		return "unknown"
	case ReasonBought:
		return "bought"
	case ReasonExisting:
		return "existing"
	case ReasonGift:
		return "gift"
	case ReasonConsumed:
		return "consumed"
	case ReasonGivenAway:
		return "given away"
	case ReasonLost:
		return "lost"
	case ReasonStock:
		return "stock"
	default:
		return "invalid"
	}
}
