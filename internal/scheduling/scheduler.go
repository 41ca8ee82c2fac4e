package scheduling

import (
	"fmt"
	"time"

	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// LastDayOfMonth is the sentinel preferred-day value meaning "charge on the
// last calendar day of each month".
const LastDayOfMonth = -1

// Policy carries the billing constants the plan computation runs under.
type Policy struct {
	BufferDays            int
	EarlyMonthCutoffDay   int
	SeasonPolicyCutoff    time.Time
	ForcedStartMonth      time.Month
	ForcedStartYear       int
	BaseMonthlyAmount     decimal.Decimal
	SigningFeeAmount      decimal.Decimal
	SiblingDiscountFactor decimal.Decimal
	HasSibling            bool
}

// Charge is one leg of the computed plan.
type Charge struct {
	Amount    decimal.Decimal
	StartDate time.Time
}

// Plan is the full billing schedule for one registration: the one-off
// signing fee, the ongoing monthly subscription, and an optional interim
// charge covering the partial first period.
type Plan struct {
	OneOffAmount decimal.Decimal
	Ongoing      Charge
	Interim      *Charge
}

// Compute resolves the billing plan for a registration. It is deterministic
// and side-effect free: the same (today, preferredDay, policy) triple always
// yields the same plan.
//
// Before the season policy cutoff every subscription starts in the forced
// start month regardless of how far away that is. After the cutoff the next
// occurrence of the preferred day is used as-is when it leaves at least
// BufferDays of lead time. When it falls inside the buffer window the
// outcome depends on where in the month we are: early in the month the payer
// gets an interim charge for the remainder of the period and the ongoing
// start moves past the too-soon occurrence; late in the month no interim is
// fair, so the too-soon occurrence is kept.
func Compute(today time.Time, preferredDay int, policy Policy) (*Plan, error) {
	if err := ValidatePreferredDay(preferredDay); err != nil {
		return nil, err
	}

	today = truncateToDay(today)

	plan := &Plan{
		OneOffAmount: policy.SigningFeeAmount,
		Ongoing:      Charge{Amount: policy.BaseMonthlyAmount},
	}

	switch {
	case !policy.SeasonPolicyCutoff.IsZero() && today.Before(truncateToDay(policy.SeasonPolicyCutoff)):
		plan.Ongoing.StartDate = occurrenceIn(preferredDay, policy.ForcedStartYear, policy.ForcedStartMonth)

	default:
		next := nextOccurrence(today, preferredDay)
		gap := daysBetween(today, next)

		switch {
		case gap >= policy.BufferDays:
			plan.Ongoing.StartDate = next

		case today.Day() <= policy.EarlyMonthCutoffDay:
			plan.Interim = &Charge{
				Amount:    policy.BaseMonthlyAmount,
				StartDate: today.AddDate(0, 0, policy.BufferDays),
			}
			following := next.AddDate(0, 1, -next.Day()+1)
			plan.Ongoing.StartDate = occurrenceIn(preferredDay, following.Year(), following.Month())

		default:
			plan.Ongoing.StartDate = next
		}
	}

	if policy.HasSibling {
		plan.Ongoing.Amount = plan.Ongoing.Amount.Mul(policy.SiblingDiscountFactor).Round(2)
		if plan.Interim != nil {
			plan.Interim.Amount = plan.Interim.Amount.Mul(policy.SiblingDiscountFactor).Round(2)
		}
	}

	return plan, nil
}

// ValidatePreferredDay rejects preferred payment days outside 1-31 and the
// last-day sentinel.
func ValidatePreferredDay(day int) error {
	if day == LastDayOfMonth {
		return nil
	}
	if day < 1 || day > 31 {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("preferred payment day %d out of range", day))
	}
	return nil
}

// nextOccurrence returns the first date on or after today whose day of month
// matches the preferred day, clamped to month length. It never rolls into
// the next month implicitly: the clamped candidate within today's month is
// used whenever it has not yet passed.
func nextOccurrence(today time.Time, preferredDay int) time.Time {
	candidate := occurrenceIn(preferredDay, today.Year(), today.Month())
	if candidate.Before(today) {
		following := today.AddDate(0, 1, -today.Day()+1)
		candidate = occurrenceIn(preferredDay, following.Year(), following.Month())
	}
	return candidate
}

// occurrenceIn resolves the preferred day within a specific month, clamping
// to the month's length and honoring the last-day sentinel.
func occurrenceIn(preferredDay int, year int, month time.Month) time.Time {
	last := daysInMonth(year, month)
	day := preferredDay
	if day == LastDayOfMonth || day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
