// Package calendar holds the month arithmetic shared by budget spending
// windows and recurring bill due dates. Every function takes the reference
// time explicitly and works in that time's location.
package calendar

import "time"

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthBounds returns the first and last instant of now's calendar month.
func MonthBounds(now time.Time) (start, end time.Time) {
	y, m, _ := now.Date()
	start = time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

// ClampDay limits day to the length of the given month.
func ClampDay(year int, month time.Month, day int) int {
	if n := DaysIn(year, month); day > n {
		return n
	}
	if day < 1 {
		return 1
	}
	return day
}

// DaysUntilDue counts days from today to dueDay. When dueDay has not passed
// this month the result is dueDay - today; otherwise it rolls over to
// daysInThisMonth - today + dueDay. The count uses dueDay as given, so a due
// day past the end of a short month is not clamped here.
func DaysUntilDue(dueDay int, today time.Time) int {
	y, m, d := today.Date()
	if dueDay >= d {
		return dueDay - d
	}
	return DaysIn(y, m) - d + dueDay
}

// NextDueDate materializes the next occurrence of dueDay on or after today,
// clamping dueDay to the length of the month it lands in.
func NextDueDate(dueDay int, today time.Time) time.Time {
	y, m, d := today.Date()
	if day := ClampDay(y, m, dueDay); dueDay >= d {
		return time.Date(y, m, day, 0, 0, 0, 0, today.Location())
	}
	next := time.Date(y, m+1, 1, 0, 0, 0, 0, today.Location())
	return time.Date(next.Year(), next.Month(), ClampDay(next.Year(), next.Month(), dueDay), 0, 0, 0, 0, today.Location())
}
