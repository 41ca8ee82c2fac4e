package enums

import (
	"fmt"
	"time"
)

// SeasonMonth names one of the nine billable months of a season, which runs
// September through May.
type SeasonMonth string

const (
	SeasonMonthSeptember SeasonMonth = "september"
	SeasonMonthOctober   SeasonMonth = "october"
	SeasonMonthNovember  SeasonMonth = "november"
	SeasonMonthDecember  SeasonMonth = "december"
	SeasonMonthJanuary   SeasonMonth = "january"
	SeasonMonthFebruary  SeasonMonth = "february"
	SeasonMonthMarch     SeasonMonth = "march"
	SeasonMonthApril     SeasonMonth = "april"
	SeasonMonthMay       SeasonMonth = "may"
)

// SeasonMonths lists the billable months in season order.
var SeasonMonths = []SeasonMonth{
	SeasonMonthSeptember,
	SeasonMonthOctober,
	SeasonMonthNovember,
	SeasonMonthDecember,
	SeasonMonthJanuary,
	SeasonMonthFebruary,
	SeasonMonthMarch,
	SeasonMonthApril,
	SeasonMonthMay,
}

var seasonMonthByCalendar = map[time.Month]SeasonMonth{
	time.September: SeasonMonthSeptember,
	time.October:   SeasonMonthOctober,
	time.November:  SeasonMonthNovember,
	time.December:  SeasonMonthDecember,
	time.January:   SeasonMonthJanuary,
	time.February:  SeasonMonthFebruary,
	time.March:     SeasonMonthMarch,
	time.April:     SeasonMonthApril,
	time.May:       SeasonMonthMay,
}

// String implements fmt.Stringer.
func (m SeasonMonth) String() string {
	return string(m)
}

// SeasonMonthForDate maps a charge date to its season month. June, July and
// August are outside the season and return false.
func SeasonMonthForDate(date time.Time) (SeasonMonth, bool) {
	month, ok := seasonMonthByCalendar[date.Month()]
	return month, ok
}

// ParseSeasonMonth converts raw input into a SeasonMonth.
func ParseSeasonMonth(value string) (SeasonMonth, error) {
	for _, candidate := range SeasonMonths {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid season month %q", value)
}
