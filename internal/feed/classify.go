package feed

import (
	"sort"
	"strings"
	"time"

	"staycal/api/internal/calendar"
	"staycal/api/internal/config"
)

// Segment is a run of nights taken on the external platform.
type Segment struct {
	Start       calendar.Date `json:"start"`
	Nights      int           `json:"duration"`
	UID         string        `json:"uid,omitempty"`
	Description string        `json:"description,omitempty"`
	// Origin is the first night of the event before clipping to today.
	Origin calendar.Date `json:"origin"`
}

// Last returns the last night of the segment.
func (s Segment) Last() calendar.Date {
	return s.Start.AddDays(s.Nights - 1)
}

type Classified struct {
	Reserved []Segment
	Blocked  []Segment
}

// Classify sorts events into reserved and blocked segments by summary.
// Events whose last night is before today are dropped; events that started
// earlier are clipped to begin today. Unknown summaries are ignored. Timed
// events are read as calendar days in loc.
func Classify(events []Event, today calendar.Date, labels config.FeedLabels, loc *time.Location) Classified {
	if loc == nil {
		loc = time.UTC
	}
	var out Classified
	for _, ev := range events {
		var target *[]Segment
		switch {
		case matchLabel(ev.Summary, labels.Reserved):
			target = &out.Reserved
		case matchLabel(ev.Summary, labels.Blocked):
			target = &out.Blocked
		default:
			continue
		}
		seg, ok := segmentOf(ev, today, loc)
		if !ok {
			continue
		}
		*target = append(*target, seg)
	}
	sortSegments(out.Reserved)
	sortSegments(out.Blocked)
	return out
}

func segmentOf(ev Event, today calendar.Date, loc *time.Location) (Segment, bool) {
	start, end := eventDate(ev.Start, ev.AllDay, loc), eventDate(ev.End, ev.AllDay, loc)
	nights := start.DaysUntil(end)
	if nights < 1 {
		nights = 1
	}
	seg := Segment{Start: start, Nights: nights, UID: ev.UID, Description: ev.Description, Origin: start}
	if seg.Last().Before(today) {
		return Segment{}, false
	}
	if seg.Start.Before(today) {
		seg.Nights -= seg.Start.DaysUntil(today)
		seg.Start = today
	}
	return seg, true
}

func eventDate(t time.Time, allDay bool, loc *time.Location) calendar.Date {
	if allDay {
		return calendar.DateOf(t)
	}
	return calendar.DateOf(t.In(loc))
}

func matchLabel(summary string, labels []string) bool {
	summary = strings.TrimSpace(summary)
	for _, label := range labels {
		if strings.EqualFold(summary, strings.TrimSpace(label)) {
			return true
		}
	}
	return false
}

func sortSegments(segs []Segment) {
	sort.Slice(segs, func(i, j int) bool {
		return segs[i].Start.Before(segs[j].Start)
	})
}
