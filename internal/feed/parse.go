package feed

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"staycal/api/internal/calendar"
	"staycal/api/internal/log"
)

// Event is one VEVENT of a feed. All-day events carry UTC midnights; their
// End is exclusive, as written in the feed.
type Event struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	RRule       string
	ExDates     []time.Time
}

// Parse reads an iCalendar body. Events that cannot be read are skipped;
// a body that is not a calendar at all is an ExternalFetch error.
func Parse(src Source, body []byte) ([]Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, calendar.ExternalFetch("The external calendar is empty.", errors.New("empty feed body"))
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, calendar.ExternalFetch("Could not read the external calendar.", fmt.Errorf("parse feed: %w", err))
	}

	events := make([]Event, 0)
	for _, ve := range cal.Events() {
		ev, err := parseEvent(ve)
		if err != nil {
			log.Error("feed event skipped", err, "room_id", src.RoomID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}
	log.Debug("feed parsed", "room_id", src.RoomID, "event_count", len(events))
	return events, nil
}

func parseEvent(ve *ical.VEvent) (Event, error) {
	var out Event

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, fmt.Errorf("event %s: missing DTSTART", out.UID)
	}
	out.AllDay = isDateValue(dtStart)

	if out.AllDay {
		start, err := parseDateValue(dtStart.Value)
		if err != nil {
			return out, fmt.Errorf("event %s: %w", out.UID, err)
		}
		out.Start = start
		out.End = start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := parseDateValue(dtEnd.Value); err == nil && end.After(start) {
				out.End = end
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("event %s: %w", out.UID, err)
		}
		out.Start = start
		out.End = start
		if end, err := ve.GetEndAt(); err == nil && end.After(start) {
			out.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTimeValue(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	return out, nil
}

// isDateValue reports a DATE-valued property: VALUE=DATE or no time part.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func parseDateValue(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if len(v) > 8 {
		v = v[:8]
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}

// parseTimeValue handles the DATE, floating DATE-TIME and UTC forms used
// by EXDATE.
func parseTimeValue(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	default:
		return parseDateValue(v)
	}
}
