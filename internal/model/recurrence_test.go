package model

import (
	"testing"
	"time"
)

func TestDueMinutesOnVariants(t *testing.T) {
	t.Parallel()
	// 2026-03-04 is a Wednesday.
	wed := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  Recurrence
		date time.Time
		want []int
	}{
		{name: "daily", rec: Daily(9, 30), date: wed, want: []int{570}},
		{name: "weekly match", rec: Weekly([]time.Weekday{time.Wednesday}, 8, 15), date: wed, want: []int{495}},
		{name: "weekly miss", rec: Weekly([]time.Weekday{time.Monday}, 8, 15), date: wed, want: nil},
		{name: "monthly match", rec: Monthly([]int{1, 4, 28}, 0, 5), date: wed, want: []int{5}},
		{name: "monthly miss", rec: Monthly([]int{5}, 0, 5), date: wed, want: nil},
		{name: "once match", rec: Once(2026, 3, 4, 23, 59), date: wed, want: []int{1439}},
		{name: "once other day", rec: Once(2026, 3, 5, 23, 59), date: wed, want: nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rec.DueMinutesOn(tt.date)
			if len(got) != len(tt.want) {
				t.Fatalf("DueMinutesOn = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("DueMinutesOn = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDueMinutesSortedDeduped(t *testing.T) {
	t.Parallel()
	// A weekday listed twice must still yield one due minute.
	rec := Weekly([]time.Weekday{time.Wednesday, time.Wednesday}, 10, 0)
	wed := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	got := rec.DueMinutesOn(wed)
	if len(got) != 1 || got[0] != 600 {
		t.Fatalf("DueMinutesOn = %v, want [600]", got)
	}

	rec2 := Monthly([]int{4, 4, 4}, 6, 45)
	got2 := rec2.DueMinutesOn(wed)
	if len(got2) != 1 || got2[0] != 405 {
		t.Fatalf("DueMinutesOn = %v, want [405]", got2)
	}
}

func TestRecurrenceValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		rec     Recurrence
		wantErr bool
	}{
		{name: "daily ok", rec: Daily(0, 0)},
		{name: "hour out of range", rec: Daily(24, 0), wantErr: true},
		{name: "minute out of range", rec: Daily(12, 60), wantErr: true},
		{name: "weekly empty", rec: Weekly(nil, 9, 0), wantErr: true},
		{name: "monthly day 32", rec: Monthly([]int{32}, 9, 0), wantErr: true},
		{name: "once ok", rec: Once(2026, 12, 31, 9, 0)},
		{name: "unknown kind", rec: Recurrence{Kind: "hourly"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLastRunCovers(t *testing.T) {
	t.Parallel()
	day := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastRun   time.Time
		dueMinute int
		want      bool
	}{
		{name: "never ran", lastRun: time.Time{}, dueMinute: 600, want: false},
		{name: "ran earlier today before slot", lastRun: time.Date(2026, 3, 4, 9, 59, 0, 0, time.UTC), dueMinute: 600, want: false},
		{name: "ran exactly at slot", lastRun: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC), dueMinute: 600, want: true},
		{name: "ran after slot", lastRun: time.Date(2026, 3, 4, 13, 30, 0, 0, time.UTC), dueMinute: 600, want: true},
		{name: "ran yesterday", lastRun: time.Date(2026, 3, 3, 23, 0, 0, 0, time.UTC), dueMinute: 600, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := Schedule{LastRun: tt.lastRun}
			if got := s.LastRunCovers(day, tt.dueMinute); got != tt.want {
				t.Fatalf("LastRunCovers = %v, want %v", got, tt.want)
			}
		})
	}
}
