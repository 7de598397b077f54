// internal/domain/pulse/transitions.go
package pulse

import (
	"database/sql"
	"time"
)

const (
	// PauseAfter is how long an active section may go without a collection before it is paused.
	PauseAfter = 5 * time.Minute
	// EndAfter is how long after the last collection a section is considered ended.
	EndAfter = 60 * time.Minute
)

// Each transition below takes the locked current row and returns the next row,
// or nil when its predicate does not hold. They never modify their input.

// ApplyCollection folds one collection event into the row for its day.
// A late event revives a paused, ended or inactive section.
func ApplyCollection(cur *Pulse, societyID int64, date, eventTime time.Time) *Pulse {
	if cur == nil {
		return &Pulse{
			SocietyID:           societyID,
			PulseDate:           date,
			FirstCollectionTime: validTime(eventTime),
			LastCollectionTime:  validTime(eventTime),
			Status:              StatusActive,
			TotalCollections:    1,
		}
	}

	next := cur.Clone()
	if !next.LastCollectionTime.Valid || eventTime.After(next.LastCollectionTime.Time) {
		next.LastCollectionTime = validTime(eventTime)
	}
	if !next.FirstCollectionTime.Valid || eventTime.Before(next.FirstCollectionTime.Time) {
		next.FirstCollectionTime = validTime(eventTime)
	}
	next.TotalCollections++
	next.Status = StatusActive
	next.SectionEndTime = sql.NullTime{}
	next.InactiveDays = 0
	return next
}

// CloseStale ends a section left open on a day before today.
func CloseStale(cur *Pulse, today, asOf time.Time, loc *time.Location) *Pulse {
	if cur == nil || !cur.Status.IsOpen() || cur.SectionEndTime.Valid || !cur.PulseDate.Before(today) {
		return nil
	}
	next := cur.Clone()
	next.Status = StatusEnded
	next.SectionEndTime = validTime(inferredEnd(cur, loc))
	next.LastChecked = validTime(asOf)
	return next
}

// Pause marks today's active section paused when its last collection falls in
// (asOf-EndAfter, asOf-PauseAfter].
func Pause(cur *Pulse, today, asOf time.Time) *Pulse {
	if cur == nil || cur.Status != StatusActive || !cur.PulseDate.Equal(today) || !cur.LastCollectionTime.Valid {
		return nil
	}
	last := cur.LastCollectionTime.Time
	if !last.After(asOf.Add(-EndAfter)) || last.After(asOf.Add(-PauseAfter)) {
		return nil
	}
	next := cur.Clone()
	next.Status = StatusPaused
	next.LastChecked = validTime(asOf)
	return next
}

// End closes today's open section once EndAfter has passed since its last collection.
func End(cur *Pulse, today, asOf time.Time) *Pulse {
	if cur == nil || !cur.Status.IsOpen() || !cur.PulseDate.Equal(today) || cur.SectionEndTime.Valid || !cur.LastCollectionTime.Valid {
		return nil
	}
	if cur.LastCollectionTime.Time.After(asOf.Add(-EndAfter)) {
		return nil
	}
	next := cur.Clone()
	next.Status = StatusEnded
	next.SectionEndTime = validTime(cur.LastCollectionTime.Time.Add(EndAfter))
	next.LastChecked = validTime(asOf)
	return next
}

// MarkInactive creates today's row for a society without collections, carrying
// yesterday's streak forward. It never touches an existing row.
func MarkInactive(cur, yesterday *Pulse, societyID int64, today, asOf time.Time) *Pulse {
	if cur != nil {
		return nil
	}
	carry := 1
	if yesterday != nil {
		carry = yesterday.InactiveDays + 1
	}
	return &Pulse{
		SocietyID:    societyID,
		PulseDate:    today,
		Status:       StatusInactive,
		InactiveDays: carry,
		LastChecked:  validTime(asOf),
	}
}

// Violation names a broken row invariant.
type Violation string

const (
	ViolationEndedWithoutEnd   Violation = "ended_without_end_time"
	ViolationEndOnOpenSection  Violation = "end_time_on_unended_section"
	ViolationInactiveNoStreak  Violation = "inactive_without_streak"
	ViolationStreakNotInactive Violation = "streak_on_non_inactive"
	ViolationFirstAfterLast    Violation = "first_after_last"
	ViolationUnknownStatus     Violation = "unknown_status"
)

// Violations lists the invariants p breaks.
func Violations(p *Pulse) []Violation {
	if p == nil {
		return nil
	}
	var vs []Violation
	if !p.Status.Valid() {
		vs = append(vs, ViolationUnknownStatus)
	}
	if p.Status == StatusEnded && !p.SectionEndTime.Valid {
		vs = append(vs, ViolationEndedWithoutEnd)
	}
	if p.Status != StatusEnded && p.SectionEndTime.Valid {
		vs = append(vs, ViolationEndOnOpenSection)
	}
	if p.Status == StatusInactive && p.InactiveDays <= 0 {
		vs = append(vs, ViolationInactiveNoStreak)
	}
	if p.Status != StatusInactive && p.InactiveDays != 0 {
		vs = append(vs, ViolationStreakNotInactive)
	}
	if p.FirstCollectionTime.Valid && p.LastCollectionTime.Valid && p.FirstCollectionTime.Time.After(p.LastCollectionTime.Time) {
		vs = append(vs, ViolationFirstAfterLast)
	}
	return vs
}

// Repair returns a copy of cur with its invariant violations healed, or nil if
// there is nothing to heal. Unknown statuses are left for an operator.
func Repair(cur *Pulse, asOf time.Time, loc *time.Location) *Pulse {
	vs := Violations(cur)
	if len(vs) == 0 {
		return nil
	}
	next := cur.Clone()
	changed := false
	for _, v := range vs {
		switch v {
		case ViolationEndedWithoutEnd:
			next.SectionEndTime = validTime(inferredEnd(cur, loc))
		case ViolationEndOnOpenSection:
			next.SectionEndTime = sql.NullTime{}
		case ViolationInactiveNoStreak:
			next.InactiveDays = 1
		case ViolationStreakNotInactive:
			next.InactiveDays = 0
		case ViolationFirstAfterLast:
			next.FirstCollectionTime, next.LastCollectionTime = cur.LastCollectionTime, cur.FirstCollectionTime
		default:
			continue
		}
		changed = true
	}
	if !changed {
		return nil
	}
	next.LastChecked = validTime(asOf)
	return next
}

// inferredEnd is the section end implied by the row's collections. Rows without
// any collection time fall back to the end of their calendar day.
func inferredEnd(p *Pulse, loc *time.Location) time.Time {
	switch {
	case p.LastCollectionTime.Valid:
		return p.LastCollectionTime.Time.Add(EndAfter)
	case p.FirstCollectionTime.Valid:
		return p.FirstCollectionTime.Time.Add(EndAfter)
	default:
		return EndOfDay(p.PulseDate, loc)
	}
}
