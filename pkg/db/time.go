package db

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// timeLayouts lists the textual forms timestamp columns come back in. The
// sqlite driver returns the stored text verbatim, and the text depends on
// how the value was bound when it was written.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Time is a nullable scan target for timestamp columns. The postgres driver
// hands back time.Time; the pure-Go sqlite driver returns text, which
// database/sql refuses to convert to time.Time on its own.
type Time struct {
	Time  time.Time
	Valid bool
}

func (t *Time) Scan(value interface{}) error {
	t.Time, t.Valid = time.Time{}, false
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("scan time: unsupported type %T", value)
	}
}

func (t *Time) parse(raw string) error {
	if raw == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("scan time: unrecognized value %q", raw)
}

// Value reports the wrapped time to the driver, mirroring sql.NullTime, so
// gorm's schema parser treats the field as a data column rather than a
// relation.
func (t Time) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time, nil
}

// Ptr returns the scanned time, or nil for a NULL column.
func (t Time) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
