package forecast

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frequency is a pandas-style offset alias controlling future date spacing.
type Frequency string

const (
	Daily      Frequency = "D"
	Weekly     Frequency = "W"
	MonthEnd   Frequency = "M"
	MonthStart Frequency = "MS"
	QuarterEnd Frequency = "Q"
	YearEnd    Frequency = "Y"
)

var ErrUnknownFrequency = errors.New("unknown frequency")

var frequencyAliases = map[string]Frequency{
	"D":     Daily,
	"W":     Weekly,
	"W-SUN": Weekly,
	"M":     MonthEnd,
	"ME":    MonthEnd,
	"MS":    MonthStart,
	"Q":     QuarterEnd,
	"QE":    QuarterEnd,
	"Y":     YearEnd,
	"YE":    YearEnd,
	"A":     YearEnd,
}

// ParseFrequency maps a timeframe code onto a Frequency.
func ParseFrequency(code string) (Frequency, error) {
	f, ok := frequencyAliases[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return "", fmt.Errorf("%w %q (supported: D, W, M, MS, Q, Y)", ErrUnknownFrequency, code)
	}
	return f, nil
}

// Next returns the first date on this frequency's grid strictly after t.
// Weekly dates are anchored on Sunday and the period-end frequencies on the
// last day of the period.
func (f Frequency) Next(t time.Time) time.Time {
	d := truncateDay(t)

	switch f {
	case Weekly:
		days := (7 - int(d.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		return d.AddDate(0, 0, days)
	case MonthEnd:
		end := endOfMonth(d.Year(), d.Month())
		if end.After(d) {
			return end
		}
		return endOfMonth(d.Year(), d.Month()+1)
	case MonthStart:
		return time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	case QuarterEnd:
		qm := time.Month(((int(d.Month())-1)/3+1)*3)
		end := endOfMonth(d.Year(), qm)
		if end.After(d) {
			return end
		}
		return endOfMonth(d.Year(), qm+3)
	case YearEnd:
		end := time.Date(d.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
		if end.After(d) {
			return end
		}
		return time.Date(d.Year()+1, time.December, 31, 0, 0, 0, 0, time.UTC)
	default:
		return d.AddDate(0, 0, 1)
	}
}

// FutureDates returns n grid dates following last.
func FutureDates(last time.Time, f Frequency, n int) []time.Time {
	dates := make([]time.Time, 0, n)
	current := last
	for range n {
		current = f.Next(current)
		dates = append(dates, current)
	}
	return dates
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// endOfMonth relies on time.Date normalising day 0 to the previous month's
// last day.
func endOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}
