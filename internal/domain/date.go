package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is how the primary store writes timestamps.
const DateLayout = "2006-01-02 15:04:05"

// parseLayouts are the formats older rows and clients use.
var parseLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05.999999",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate accepts any of the timestamp formats found in stored trips.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// DateKind distinguishes a concrete date from the two unknown cases.
type DateKind int

const (
	DateKnown DateKind = iota
	// DateUnknownPast is a trip that happened at some unrecorded time.
	DateUnknownPast
	// DateUnknownFuture is a planned trip (a project) with no date yet.
	DateUnknownFuture
)

const (
	unknownPastText   = "unknown_past"
	unknownFutureText = "unknown_future"
)

// DateBound is a trip's local start or end.
type DateBound struct {
	Kind DateKind
	Time time.Time
}

func At(t time.Time) DateBound { return DateBound{Kind: DateKnown, Time: t} }
func UnknownPast() DateBound { return DateBound{Kind: DateUnknownPast} }
func UnknownFuture() DateBound { return DateBound{Kind: DateUnknownFuture} }

func (d DateBound) Known() bool { return d.Kind == DateKnown }

// Ptr returns the concrete time, or nil for either unknown kind.
func (d DateBound) Ptr() *time.Time {
	if d.Kind != DateKnown {
		return nil
	}
	t := d.Time
	return &t
}

func (d DateBound) String() string {
	switch d.Kind {
	case DateUnknownPast:
		return unknownPastText
	case DateUnknownFuture:
		return unknownFutureText
	default:
		return d.Time.Format(DateLayout)
	}
}

func (d DateBound) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DateBound) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date bound: %w", err)
	}
	switch s {
	case unknownPastText:
		*d = UnknownPast()
	case unknownFutureText:
		*d = UnknownFuture()
	default:
		t, err := ParseDate(s)
		if err != nil {
			return err
		}
		*d = At(t)
	}
	return nil
}
