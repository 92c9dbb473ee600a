package holdings

import (
	"fmt"
	"time"
)

// DateFormat is the ISO-8601 calendar date layout used on the wire.
const DateFormat = "2006-01-02"

// Date is a calendar day without time zone.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalized Date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	y, m, d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Date()
	return Date{y, m, d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return NewDate(t.Date()), nil
}

// DateFromDays converts a count of days since 1970-01-01, the parquet DATE
// representation.
func DateFromDays(days int32) Date {
	return NewDate(1970, time.January, 1+int(days))
}

// Days is the inverse of DateFromDays.
func (d Date) Days() int32 {
	return int32(d.time().Unix() / 86400)
}

func (d Date) Year() int          { return d.y }
func (d Date) Month() time.Month  { return d.m }
func (d Date) Day() int           { return d.d }
func (d Date) IsZero() bool       { return d.y == 0 && d.m == 0 && d.d == 0 }
func (d Date) String() string     { return d.time().Format(DateFormat) }
func (d Date) time() time.Time    { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }
func (d Date) Before(x Date) bool { return d.Compare(x) < 0 }
func (d Date) After(x Date) bool  { return d.Compare(x) > 0 }

// Compare returns -1, 0 or +1 as d is before, equal to or after x.
func (d Date) Compare(x Date) int {
	switch {
	case d.y != x.y:
		return cmpInt(d.y, x.y)
	case d.m != x.m:
		return cmpInt(int(d.m), int(x.m))
	default:
		return cmpInt(d.d, x.d)
	}
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// MarshalText renders the date as YYYY-MM-DD.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses YYYY-MM-DD.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
