package feed

import (
	"time"

	"github.com/teambition/rrule-go"

	"staycal/api/internal/log"
)

const maxOccurrencesPerEvent = 1000

// Expand replaces recurring events with their occurrences between from and
// to. Single events pass through untouched, whatever their dates.
func Expand(events []Event, from, to time.Time) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.RRule == "" {
			out = append(out, ev)
			continue
		}
		out = append(out, expandRecurring(ev, from, to)...)
	}
	return out
}

func expandRecurring(ev Event, from, to time.Time) []Event {
	rule, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		log.Error("feed rrule skipped", err, "uid", ev.UID, "rrule", ev.RRule)
		return nil
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	// Widen by the event length so occurrences already running at from count.
	length := ev.End.Sub(ev.Start)
	starts := set.Between(from.In(loc).Add(-length), to.In(loc), true)
	if len(starts) > maxOccurrencesPerEvent {
		log.Error("feed rrule truncated", nil, "uid", ev.UID, "cap", maxOccurrencesPerEvent)
		starts = starts[:maxOccurrencesPerEvent]
	}

	out := make([]Event, 0, len(starts))
	for _, start := range starts {
		occ := ev
		occ.RRule = ""
		occ.ExDates = nil
		occ.Start = start
		occ.End = start.Add(length)
		out = append(out, occ)
	}
	return out
}
