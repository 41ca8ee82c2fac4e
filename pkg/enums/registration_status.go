package enums

import "fmt"

// RegistrationStatus tracks a registration through payment, activation and
// the suspend/restore pair.
type RegistrationStatus string

const (
	RegistrationStatusPendingPayment RegistrationStatus = "pending_payment"
	RegistrationStatusIncomplete     RegistrationStatus = "incomplete"
	RegistrationStatusActive         RegistrationStatus = "active"
	RegistrationStatusSuspended      RegistrationStatus = "suspended"
	RegistrationStatusFailed         RegistrationStatus = "failed"
)

var validRegistrationStatuses = []RegistrationStatus{
	RegistrationStatusPendingPayment,
	RegistrationStatusIncomplete,
	RegistrationStatusActive,
	RegistrationStatusSuspended,
	RegistrationStatusFailed,
}

// String implements fmt.Stringer.
func (s RegistrationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s RegistrationStatus) IsValid() bool {
	for _, candidate := range validRegistrationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseRegistrationStatus converts raw input into a RegistrationStatus.
func ParseRegistrationStatus(value string) (RegistrationStatus, error) {
	for _, candidate := range validRegistrationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid registration status %q", value)
}
