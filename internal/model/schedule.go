package model

import "time"

// Schedule is a calendar-recurring broadcast definition.
//
// The lite form (SchedulesActiveOn) carries recurrence, targets and LastRun;
// Texts and MediaPaths are only populated by ScheduleDetail, so media files
// are never touched before a schedule is actually due.
type Schedule struct {
	ID          int64
	Description string
	Recurrence  Recurrence
	BotIDs      []string
	LastRun     time.Time // zero when the schedule has never fired

	Texts      []string
	MediaPaths []string
}

// LastRunCovers reports whether LastRun already satisfies a due minute on
// the given day.
func (s Schedule) LastRunCovers(day time.Time, dueMinute int) bool {
	if s.LastRun.IsZero() {
		return false
	}
	ly, lm, ld := s.LastRun.Date()
	dy, dm, dd := day.Date()
	if ly != dy || lm != dm || ld != dd {
		return false
	}
	return s.LastRun.Hour()*60+s.LastRun.Minute() >= dueMinute
}
