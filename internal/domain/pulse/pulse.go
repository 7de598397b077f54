// internal/domain/pulse/pulse.go
package pulse

import (
	"database/sql"
	"time"
)

// Status is the classification of a society's collection section for one day.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusEnded    Status = "ended"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusEnded, StatusInactive:
		return true
	}
	return false
}

// IsOpen reports whether a section in this status may still be paused or ended.
func (s Status) IsOpen() bool {
	return s == StatusActive || s == StatusPaused
}

// Pulse is one section_pulse row: a society's section state for one calendar day.
type Pulse struct {
	ID                  int64
	SocietyID           int64
	PulseDate           time.Time    // midnight UTC of the tenant-local civil date
	FirstCollectionTime sql.NullTime // earliest collection seen for the day
	LastCollectionTime  sql.NullTime // latest collection seen, never moves back
	SectionEndTime      sql.NullTime // set iff Status == StatusEnded
	Status              Status
	TotalCollections    int
	InactiveDays        int // streak length, > 0 iff Status == StatusInactive
	LastChecked         sql.NullTime
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Clone returns a shallow copy; Pulse holds no reference fields.
func (p *Pulse) Clone() *Pulse {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// DateOf returns the civil date of t in loc, as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the instant the civil date ends in loc.
func EndOfDay(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day()+1, 0, 0, 0, 0, loc)
}

func validTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
