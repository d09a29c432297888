package calendar

import (
	"time"

	"github.com/postpilot-app/postpilot/backend/internal/models"
)

// RelevantPostDate returns the timestamp that places a post on the calendar:
// ScheduledAt for scheduled posts, PostedAt for posted posts, nil otherwise.
// A scheduled post with no ScheduledAt yields nil (same for posted/PostedAt).
func RelevantPostDate(p models.Post) *time.Time {
	switch p.Status {
	case models.PostStatusScheduled:
		return p.ScheduledAt
	case models.PostStatusPosted:
		return p.PostedAt
	default:
		return nil
	}
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayStart truncates t to midnight in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// PostMatchesDate reports whether the post's relevant timestamp falls on the
// same calendar day as date, evaluated in loc. Posts without a relevant
// timestamp never match.
func PostMatchesDate(p models.Post, date time.Time, loc *time.Location) bool {
	ts := RelevantPostDate(p)
	if ts == nil || ts.IsZero() {
		return false
	}
	return SameDay(*ts, date, loc)
}

// IsDraggable reports whether a post may still be moved on the calendar.
// Posted posts are fixed, as are scheduled posts whose slot already passed.
// A scheduled post with no timestamp is movable, as are drafts/suggestions.
func IsDraggable(p models.Post, now time.Time) bool {
	switch p.Status {
	case models.PostStatusPosted:
		return false
	case models.PostStatusScheduled:
		if p.ScheduledAt == nil {
			return true
		}
		return !p.ScheduledAt.Before(now)
	default:
		return true
	}
}

// SeparateByType partitions posts into scheduled and posted groups in a
// single pass, preserving input order within each group. Other statuses are
// excluded.
func SeparateByType(posts []models.Post) (scheduled, posted []models.Post) {
	scheduled = []models.Post{}
	posted = []models.Post{}
	for _, p := range posts {
		switch p.Status {
		case models.PostStatusScheduled:
			scheduled = append(scheduled, p)
		case models.PostStatusPosted:
			posted = append(posted, p)
		}
	}
	return scheduled, posted
}

// PostsOn returns the posts whose relevant date falls on date, in input order.
func PostsOn(date time.Time, posts []models.Post, loc *time.Location) []models.Post {
	out := []models.Post{}
	for _, p := range posts {
		if PostMatchesDate(p, date, loc) {
			out = append(out, p)
		}
	}
	return out
}

// MonthRange returns the calendar-grid range for the month containing t: the
// Sunday on or before the 1st through the Saturday on or after the last day
// of the month, formatted as YYYY-MM-DD in loc.
func MonthRange(t time.Time, loc *time.Location) (startDate, endDate string) {
	t = t.In(loc)
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)
	start := first.AddDate(0, 0, -int(first.Weekday()))
	end := last.AddDate(0, 0, int(time.Saturday-last.Weekday()))
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}
