package calendar

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestDaysUntilDue(t *testing.T) {
	cases := []struct {
		name   string
		due    int
		today  time.Time
		expect int
	}{
		{"rollover in 31-day month", 2, day(2024, time.August, 15), 18},
		{"due today", 15, day(2024, time.August, 15), 0},
		{"later this month", 20, day(2024, time.August, 15), 5},
		{"31st on the last day of a 30-day month", 31, day(2024, time.April, 30), 1},
		{"31st ahead in 30-day month", 31, day(2024, time.April, 20), 11},
		{"30th from mid february", 30, day(2023, time.February, 15), 15},
		{"rollover from january 31st", 30, day(2023, time.January, 31), 30},
		{"rollover before leap february", 30, day(2024, time.January, 31), 30},
		{"december rolls into january", 1, day(2024, time.December, 31), 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := DaysUntilDue(c.due, c.today); got != c.expect {
				t.Fatalf("DaysUntilDue(%d, %s) = %d, want %d", c.due, c.today.Format(time.DateOnly), got, c.expect)
			}
		})
	}
}

func TestMonthBounds(t *testing.T) {
	start, end := MonthBounds(day(2024, time.February, 10))
	if !start.Equal(time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %s", start)
	}
	if end.Day() != 29 || end.Hour() != 23 || end.Month() != time.February {
		t.Fatalf("end = %s", end)
	}
	if !end.Add(time.Nanosecond).Equal(time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end is not the last instant: %s", end)
	}
}

func TestClampDay(t *testing.T) {
	if got := ClampDay(2023, time.February, 31); got != 28 {
		t.Fatalf("got %d", got)
	}
	if got := ClampDay(2023, time.March, 31); got != 31 {
		t.Fatalf("got %d", got)
	}
}

func TestNextDueDate(t *testing.T) {
	cases := []struct {
		due   int
		today time.Time
		want  time.Time
	}{
		{2, day(2024, time.August, 15), time.Date(2024, time.September, 2, 0, 0, 0, 0, time.UTC)},
		{31, day(2023, time.February, 10), time.Date(2023, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{31, day(2024, time.April, 30), time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC)},
		{30, day(2024, time.January, 31), time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := NextDueDate(c.due, c.today); !got.Equal(c.want) {
			t.Fatalf("NextDueDate(%d, %s) = %s, want %s", c.due, c.today.Format(time.DateOnly), got, c.want)
		}
	}
}
