package sqlstore

import (
	"fmt"
	"time"
)

// timeLayout is fixed width so that TEXT comparison in SQLite orders rows
// chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlstore: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// timeScanner reads a timestamp column written by either dialect: native
// time values from PostgreSQL, TEXT from SQLite.
type timeScanner struct {
	dst *time.Time
}

func scanTime(dst *time.Time) timeScanner {
	return timeScanner{dst: dst}
}

func (s timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.dst = time.Time{}
	case time.Time:
		*s.dst = v.UTC()
	case string:
		t, err := parseTime(v)
		if err != nil {
			return err
		}
		*s.dst = t
	case []byte:
		t, err := parseTime(string(v))
		if err != nil {
			return err
		}
		*s.dst = t
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
	return nil
}
