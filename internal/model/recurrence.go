package model

import (
	"fmt"
	"sort"
	"time"
)

// RecurrenceKind tags the one populated variant of a Recurrence.
type RecurrenceKind string

const (
	KindOnce    RecurrenceKind = "once"
	KindDaily   RecurrenceKind = "daily"
	KindWeekly  RecurrenceKind = "weekly"
	KindMonthly RecurrenceKind = "monthly"
)

// Recurrence is a tagged union over {Once, Daily, Weekly, Monthly}. Use the
// constructors; only the fields belonging to Kind are meaningful.
type Recurrence struct {
	Kind RecurrenceKind

	// Once
	Year  int
	Month time.Month
	Day   int

	// Weekly
	Weekdays []time.Weekday

	// Monthly
	Monthdays []int

	// All kinds
	Hour   int
	Minute int
}

func Once(year int, month time.Month, day, hour, minute int) Recurrence {
	return Recurrence{Kind: KindOnce, Year: year, Month: month, Day: day, Hour: hour, Minute: minute}
}

func Daily(hour, minute int) Recurrence {
	return Recurrence{Kind: KindDaily, Hour: hour, Minute: minute}
}

func Weekly(days []time.Weekday, hour, minute int) Recurrence {
	return Recurrence{Kind: KindWeekly, Weekdays: days, Hour: hour, Minute: minute}
}

func Monthly(dates []int, hour, minute int) Recurrence {
	return Recurrence{Kind: KindMonthly, Monthdays: dates, Hour: hour, Minute: minute}
}

func (r Recurrence) Validate() error {
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("recurrence: hour %d out of range", r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("recurrence: minute %d out of range", r.Minute)
	}
	switch r.Kind {
	case KindOnce:
		if r.Year < 1 || r.Month < 1 || r.Month > 12 || r.Day < 1 || r.Day > 31 {
			return fmt.Errorf("recurrence: invalid once date %d-%d-%d", r.Year, r.Month, r.Day)
		}
	case KindDaily:
	case KindWeekly:
		if len(r.Weekdays) == 0 {
			return fmt.Errorf("recurrence: weekly without weekdays")
		}
		for _, d := range r.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("recurrence: invalid weekday %d", d)
			}
		}
	case KindMonthly:
		if len(r.Monthdays) == 0 {
			return fmt.Errorf("recurrence: monthly without dates")
		}
		for _, d := range r.Monthdays {
			if d < 1 || d > 31 {
				return fmt.Errorf("recurrence: invalid day-of-month %d", d)
			}
		}
	default:
		return fmt.Errorf("recurrence: unknown kind %q", r.Kind)
	}
	return nil
}

// DueMinutesOn returns the minute-of-day due times this recurrence yields on
// the given calendar date, sorted ascending with duplicates removed.
func (r Recurrence) DueMinutesOn(date time.Time) []int {
	minute := r.Hour*60 + r.Minute

	var due []int
	switch r.Kind {
	case KindOnce:
		if date.Year() == r.Year && date.Month() == r.Month && date.Day() == r.Day {
			due = append(due, minute)
		}
	case KindDaily:
		due = append(due, minute)
	case KindWeekly:
		for _, d := range r.Weekdays {
			if date.Weekday() == d {
				due = append(due, minute)
			}
		}
	case KindMonthly:
		for _, d := range r.Monthdays {
			if date.Day() == d {
				due = append(due, minute)
			}
		}
	}

	sort.Ints(due)
	out := due[:0]
	for i, m := range due {
		if i == 0 || m != due[i-1] {
			out = append(out, m)
		}
	}
	return out
}
