package enums

// MonthPaymentStatus records the outcome of a single monthly subscription
// charge.
type MonthPaymentStatus string

const (
	MonthPaymentStatusUnset       MonthPaymentStatus = "unset"
	MonthPaymentStatusConfirmed   MonthPaymentStatus = "confirmed"
	MonthPaymentStatusFailed      MonthPaymentStatus = "failed"
	MonthPaymentStatusCancelled   MonthPaymentStatus = "cancelled"
	MonthPaymentStatusChargedBack MonthPaymentStatus = "charged_back"
)

var validMonthPaymentStatuses = []MonthPaymentStatus{
	MonthPaymentStatusUnset,
	MonthPaymentStatusConfirmed,
	MonthPaymentStatusFailed,
	MonthPaymentStatusCancelled,
	MonthPaymentStatusChargedBack,
}

// String implements fmt.Stringer.
func (s MonthPaymentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s MonthPaymentStatus) IsValid() bool {
	for _, candidate := range validMonthPaymentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// MonthPaymentStatusForAction maps a processor payment action to the stored
// month status. Unknown actions return false.
func MonthPaymentStatusForAction(action string) (MonthPaymentStatus, bool) {
	switch action {
	case "confirmed", "paid_out":
		return MonthPaymentStatusConfirmed, true
	case "failed":
		return MonthPaymentStatusFailed, true
	case "cancelled":
		return MonthPaymentStatusCancelled, true
	case "charged_back":
		return MonthPaymentStatusChargedBack, true
	default:
		return "", false
	}
}
