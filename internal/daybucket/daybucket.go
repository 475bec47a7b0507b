// Package daybucket maps a civil date in an IANA timezone to an absolute UTC
// interval. Metrics and drift both resolve "day" through this package so the
// two always agree on the wall-clock window.
package daybucket

import (
	"errors"
	"fmt"
	"time"

	"github.com/mlguard/backend/internal/storage/models"
)

var (
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidDay      = errors.New("invalid day, expected YYYY-MM-DD")
)

const DayFormat = "2006-01-02"

// DayBucket is the resolved [StartUTC, EndUTC) interval for one civil day.
// The interval spans DST transitions, so its duration is not always 24h.
type DayBucket struct {
	Key      models.ModelKey
	Day      string
	TZ       string
	StartUTC time.Time
	EndUTC   time.Time
}

// ParseDay validates a YYYY-MM-DD civil date.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(DayFormat, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}
	return t, nil
}

// Bucket resolves the UTC boundaries of one civil day. Pure: the same inputs
// always yield the same interval.
func Bucket(key models.ModelKey, day, tzName string) (DayBucket, error) {
	d, err := ParseDay(day)
	if err != nil {
		return DayBucket{}, err
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return DayBucket{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, tzName)
	}

	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end := time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)

	return DayBucket{
		Key:      key,
		Day:      day,
		TZ:       tzName,
		StartUTC: start.UTC(),
		EndUTC:   end.UTC(),
	}, nil
}
