package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmwhitfield/clubpay-backend/pkg/enums"
)

// Registration is one player's membership for the season. The nine month
// columns hold the outcome of each subscription charge, September through
// May, as flat fields so the record round-trips through simple stores.
type Registration struct {
	ID                    uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	BillingRequestID      string                   `gorm:"column:billing_request_id;not null;unique"`
	GuardianFullName      string                   `gorm:"column:guardian_full_name;not null"`
	PlayerSurname         string                   `gorm:"column:player_surname;not null"`
	GuardianPhone         string                   `gorm:"column:guardian_phone;not null"`
	GuardianEmail         string                   `gorm:"column:guardian_email"`
	SigningOnFeePaid      bool                     `gorm:"column:signing_on_fee_paid;not null;default:false"`
	MandateAuthorised     bool                     `gorm:"column:mandate_authorised;not null;default:false"`
	MandateID             *string                  `gorm:"column:mandate_id"`
	RegistrationStatus    enums.RegistrationStatus `gorm:"column:registration_status;type:registration_status;not null;default:'pending_payment'"`
	OngoingSubscriptionID *string                  `gorm:"column:ongoing_subscription_id"`
	InterimSubscriptionID *string                  `gorm:"column:interim_subscription_id"`
	SubscriptionStartDate *time.Time               `gorm:"column:subscription_start_date"`
	SubscriptionStatus    enums.SubscriptionStatus `gorm:"column:subscription_status;type:subscription_status;not null;default:'unset'"`
	SubscriptionError     *string                  `gorm:"column:subscription_error"`
	SubscriptionClaimedAt *time.Time               `gorm:"column:subscription_claimed_at"`
	PreferredPaymentDay   int                      `gorm:"column:preferred_payment_day;not null"`
	PaymentLinkSentAt     *time.Time               `gorm:"column:payment_link_sent_at"`
	ConfirmationSentAt    *time.Time               `gorm:"column:confirmation_sent_at"`
	FirstChaseSentAt      *time.Time               `gorm:"column:first_chase_sent_at"`
	SecondChaseSentAt     *time.Time               `gorm:"column:second_chase_sent_at"`

	SeptemberPayment enums.MonthPaymentStatus `gorm:"column:september_payment;type:month_payment_status;not null;default:'unset'"`
	OctoberPayment   enums.MonthPaymentStatus `gorm:"column:october_payment;type:month_payment_status;not null;default:'unset'"`
	NovemberPayment  enums.MonthPaymentStatus `gorm:"column:november_payment;type:month_payment_status;not null;default:'unset'"`
	DecemberPayment  enums.MonthPaymentStatus `gorm:"column:december_payment;type:month_payment_status;not null;default:'unset'"`
	JanuaryPayment   enums.MonthPaymentStatus `gorm:"column:january_payment;type:month_payment_status;not null;default:'unset'"`
	FebruaryPayment  enums.MonthPaymentStatus `gorm:"column:february_payment;type:month_payment_status;not null;default:'unset'"`
	MarchPayment     enums.MonthPaymentStatus `gorm:"column:march_payment;type:month_payment_status;not null;default:'unset'"`
	AprilPayment     enums.MonthPaymentStatus `gorm:"column:april_payment;type:month_payment_status;not null;default:'unset'"`
	MayPayment       enums.MonthPaymentStatus `gorm:"column:may_payment;type:month_payment_status;not null;default:'unset'"`

	Version   int64     `gorm:"column:version;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the active-store table.
func (Registration) TableName() string {
	return "registrations"
}

// MonthStatus returns the recorded charge outcome for the given season month.
func (r *Registration) MonthStatus(month enums.SeasonMonth) enums.MonthPaymentStatus {
	if field := r.monthField(month); field != nil {
		return *field
	}
	return enums.MonthPaymentStatusUnset
}

// SetMonthStatus records the charge outcome for the given season month.
// Unknown months are ignored.
func (r *Registration) SetMonthStatus(month enums.SeasonMonth, status enums.MonthPaymentStatus) {
	if field := r.monthField(month); field != nil {
		*field = status
	}
}

func (r *Registration) monthField(month enums.SeasonMonth) *enums.MonthPaymentStatus {
	switch month {
	case enums.SeasonMonthSeptember:
		return &r.SeptemberPayment
	case enums.SeasonMonthOctober:
		return &r.OctoberPayment
	case enums.SeasonMonthNovember:
		return &r.NovemberPayment
	case enums.SeasonMonthDecember:
		return &r.DecemberPayment
	case enums.SeasonMonthJanuary:
		return &r.JanuaryPayment
	case enums.SeasonMonthFebruary:
		return &r.FebruaryPayment
	case enums.SeasonMonthMarch:
		return &r.MarchPayment
	case enums.SeasonMonthApril:
		return &r.AprilPayment
	case enums.SeasonMonthMay:
		return &r.MayPayment
	default:
		return nil
	}
}

// SuspendedRegistration mirrors Registration in the suspended store. A record
// lives in exactly one of the two tables at any time.
type SuspendedRegistration struct {
	Registration `gorm:"embedded"`
}

// TableName pins the suspended-store table.
func (SuspendedRegistration) TableName() string {
	return "suspended_registrations"
}
