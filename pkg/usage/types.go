package usage

import (
	"maps"
	"strings"
	"time"
)

// Resource is a gated resource kind.
type Resource string

// Known resource kinds. Any other kind is accepted and is gated only when a
// plan configures a limit for it.
const (
	ResourceProjects   Resource = "projects"
	ResourceCourses    Resource = "courses"
	ResourceTasks      Resource = "tasks"
	ResourceStorage    Resource = "storage" // megabytes
	ResourceAIRequests Resource = "ai_requests"
)

// Valid reports whether r is a usable resource token.
func (r Resource) Valid() bool {
	return r != "" && !strings.ContainsAny(string(r), " \t\n")
}

// UserUsage holds a user's counters. Period counters restart every billing
// month relative to LastResetAt; Total counters never decrease.
type UserUsage struct {
	UserID      string             `json:"user_id"`
	Period      map[Resource]int64 `json:"period"`
	Total       map[Resource]int64 `json:"total"`
	LastResetAt time.Time          `json:"last_reset_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// NewUserUsage returns an empty usage row for userID.
func NewUserUsage(userID string) *UserUsage {
	return &UserUsage{
		UserID: userID,
		Period: make(map[Resource]int64),
		Total:  make(map[Resource]int64),
	}
}

// Current returns the period counter for kind.
func (u *UserUsage) Current(kind Resource) int64 { return u.Period[kind] }

// AllTime returns the all-time counter for kind.
func (u *UserUsage) AllTime(kind Resource) int64 { return u.Total[kind] }

// NextResetAt returns when the period counters reset next.
func (u *UserUsage) NextResetAt() time.Time {
	return addMonths(u.LastResetAt, 1)
}

// Clone returns a deep copy.
func (u *UserUsage) Clone() *UserUsage {
	c := *u
	c.Period = maps.Clone(u.Period)
	c.Total = maps.Clone(u.Total)
	if c.Period == nil {
		c.Period = make(map[Resource]int64)
	}
	if c.Total == nil {
		c.Total = make(map[Resource]int64)
	}
	return &c
}

func (u *UserUsage) add(kind Resource, n int64) {
	if u.Period == nil {
		u.Period = make(map[Resource]int64)
	}
	if u.Total == nil {
		u.Total = make(map[Resource]int64)
	}
	u.Period[kind] += n
	u.Total[kind] += n
}

func (u *UserUsage) release(kind Resource, n int64) {
	if u.Period == nil {
		return
	}
	u.Period[kind] = max(u.Period[kind]-n, 0)
}

// rollover applies the lazy monthly reset. A fresh row is anchored at now.
// When one or more whole months have passed since LastResetAt, every period
// counter is zeroed once and the anchor advances by the elapsed months.
func (u *UserUsage) rollover(now time.Time) bool {
	if u.LastResetAt.IsZero() {
		u.LastResetAt = now
		return false
	}
	anchor := u.LastResetAt
	if now.Before(addMonths(anchor, 1)) {
		return false
	}
	n := 1
	for !now.Before(addMonths(anchor, n+1)) {
		n++
	}
	u.LastResetAt = addMonths(anchor, n)
	clear(u.Period)
	return true
}

// addMonths adds n calendar months, clamping the day to the target month's
// last day so Jan 31 + 1 month is Feb 28 (or 29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	last := time.Date(y, m+time.Month(n)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	return time.Date(y, m+time.Month(n), min(d, last), hh, mm, ss, t.Nanosecond(), t.Location())
}
