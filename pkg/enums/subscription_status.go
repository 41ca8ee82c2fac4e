package enums

import "fmt"

// SubscriptionStatus tracks the activation of the recurring subscription for
// a registration. "pending" marks an in-flight activation claim so that two
// concurrent webhook deliveries cannot both create subscriptions.
type SubscriptionStatus string

const (
	SubscriptionStatusUnset   SubscriptionStatus = "unset"
	SubscriptionStatusPending SubscriptionStatus = "pending"
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusFailed  SubscriptionStatus = "failed"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusUnset,
	SubscriptionStatusPending,
	SubscriptionStatusActive,
	SubscriptionStatusFailed,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}
