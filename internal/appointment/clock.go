package appointment

import (
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Clock supplies the current instant. Tests use FixedClock.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// today returns midnight of the current civil date in loc.
func today(clock Clock, loc *time.Location) time.Time {
	now := clock.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// WeekBounds returns the Sunday and Saturday of the week containing date.
func WeekBounds(date time.Time) (start, end time.Time) {
	start = date.AddDate(0, 0, -int(date.Weekday()))
	end = start.AddDate(0, 0, 6)
	return start, end
}

// windowEnd adds d to a HH:MM:SS wall clock time. The result is clamped to
// 24:00:00 so a window never spills into the next day.
func windowEnd(start string, d time.Duration) (string, error) {
	t, err := time.Parse(timeLayout, start)
	if err != nil {
		return "", fmt.Errorf("parse time %q: %w", start, err)
	}
	sinceMidnight := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
	end := sinceMidnight + d
	if end >= 24*time.Hour {
		return "24:00:00", nil
	}
	h := int(end / time.Hour)
	m := int(end % time.Hour / time.Minute)
	s := int(end % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s), nil
}
