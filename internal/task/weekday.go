package task

import "time"

// Weekdays is a set of eligible weekdays. Eligibility is evaluated against
// time.Weekday values so it is independent of locale and display names.
type Weekdays map[time.Weekday]bool

// EveryDay returns a set containing all seven weekdays.
func EveryDay() Weekdays {
	w := make(Weekdays, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		w[d] = true
	}
	return w
}

// Days returns a set containing exactly the given weekdays.
func Days(days ...time.Weekday) Weekdays {
	w := make(Weekdays, len(days))
	for _, d := range days {
		w[d] = true
	}
	return w
}

// Eligible reports whether t's weekday is in the set.
func (w Weekdays) Eligible(t time.Time) bool {
	return w[t.Weekday()]
}
