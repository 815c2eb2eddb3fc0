// Package rangeops applies block, unblock and booking operations to runs of
// calendar days. Every date is written independently; bulk calls never let a
// failing date stop the others and report aggregate counts instead.
package rangeops

import (
	"context"
	"errors"
	"time"

	"staycal/api/internal/calendar"
	"staycal/api/internal/store"
)

// MaxRangeDays caps a single range or booking span.
const MaxRangeDays = 730

const maxWriteAttempts = 3

// DayStore is the slice of the store the engine needs.
type DayStore interface {
	GetCalendar(ctx context.Context, calendarID string) (store.Calendar, error)
	GetRoom(ctx context.Context, roomID string) (store.Room, error)
	GetGuest(ctx context.Context, guestID string) (store.Guest, error)
	GetDay(ctx context.Context, calendarID string, date calendar.Date) (calendar.Day, error)
	ListDays(ctx context.Context, calendarID string, from, to calendar.Date) ([]calendar.Day, error)
	ListDaysWithBooking(ctx context.Context, bookingID string) ([]calendar.Day, error)
	ListDaysWithGuest(ctx context.Context, calendarID, guestID string, from calendar.Date) ([]calendar.Day, error)
	SaveDay(ctx context.Context, day calendar.Day) (calendar.Day, error)
}

type Engine struct {
	days DayStore
	loc  *time.Location
	now  func() time.Time
}

func New(days DayStore, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{days: days, loc: loc, now: time.Now}
}

// SetClock replaces the wall clock used to decide what "today" is.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) Today() calendar.Date {
	return calendar.Today(e.now(), e.loc)
}

// BulkResult mirrors an unordered batch write: how many existing days
// matched, how many of those changed, how many were created, and how many
// dates were skipped as past or failed on their own.
type BulkResult struct {
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
	Upserted int `json:"upserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type RangeResult struct {
	Days    []calendar.Day `json:"days"`
	Summary BulkResult     `json:"summary"`
}

func (r *RangeResult) record(day calendar.Day, outcome writeOutcome) {
	switch outcome {
	case outcomeMissing:
		r.Summary.Skipped++
		return
	case outcomeUnchanged:
		r.Summary.Matched++
	case outcomeModified:
		r.Summary.Matched++
		r.Summary.Modified++
	case outcomeUpserted:
		r.Summary.Upserted++
	}
	r.Days = append(r.Days, day)
}

type writeOutcome int

const (
	outcomeMissing writeOutcome = iota
	outcomeUnchanged
	outcomeModified
	outcomeUpserted
)

// mutateDay reads the day at (calendarID, date), applies edit and saves the
// result when edit reports a change. A missing day is created only when
// create is set. Lost write races are retried against a fresh read.
func (e *Engine) mutateDay(ctx context.Context, calendarID string, date calendar.Date, create bool, edit func(*calendar.Day) (bool, error)) (calendar.Day, writeOutcome, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		day, err := e.days.GetDay(ctx, calendarID, date)
		isNew := false
		if errors.Is(err, store.ErrNotFound) {
			if !create {
				return calendar.Day{CalendarID: calendarID, Date: date}, outcomeMissing, nil
			}
			day = calendar.Day{CalendarID: calendarID, Date: date}
			isNew = true
		} else if err != nil {
			return calendar.Day{}, 0, err
		}

		changed, err := edit(&day)
		if err != nil {
			return calendar.Day{}, 0, err
		}
		if !changed {
			if isNew {
				return day, outcomeMissing, nil
			}
			return day, outcomeUnchanged, nil
		}
		if err := calendar.Validate(day, e.Today(), isNew); err != nil {
			return calendar.Day{}, 0, err
		}

		saved, err := e.days.SaveDay(ctx, day)
		if isWriteConflict(err) {
			continue
		}
		if err != nil {
			return calendar.Day{}, 0, err
		}
		if isNew {
			return saved, outcomeUpserted, nil
		}
		return saved, outcomeModified, nil
	}
	return calendar.Day{}, 0, calendar.Consistency(calendar.MsgConcurrentWrite)
}

func isWriteConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, calendar.ErrDuplicate) {
		return true
	}
	var calErr *calendar.Error
	return errors.As(err, &calErr) && calErr.Message == calendar.MsgConcurrentWrite
}

func (e *Engine) requireCalendar(ctx context.Context, calendarID string) (store.Calendar, error) {
	if calendarID == "" {
		return store.Calendar{}, calendar.Validation("Calendar is required.")
	}
	cal, err := e.days.GetCalendar(ctx, calendarID)
	if err != nil {
		return store.Calendar{}, referenceOr(err, "Calendar not found.")
	}
	return cal, nil
}

func referenceOr(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return calendar.Reference(message)
	}
	return err
}

func rangeDates(start, end calendar.Date) ([]calendar.Date, error) {
	if start.IsZero() || end.IsZero() {
		return nil, calendar.Validation("Start and end dates are required.")
	}
	if start.After(end) {
		return nil, calendar.Validation("Start date must not be after end date.")
	}
	if start.DaysUntil(end) >= MaxRangeDays {
		return nil, calendar.Validation("Date range is too long.")
	}
	return calendar.Range(start, end), nil
}

// Days returns the stored days of a calendar between from and to inclusive.
func (e *Engine) Days(ctx context.Context, calendarID string, from, to calendar.Date) ([]calendar.Day, error) {
	if _, err := rangeDates(from, to); err != nil {
		return nil, err
	}
	if _, err := e.requireCalendar(ctx, calendarID); err != nil {
		return nil, err
	}
	return e.days.ListDays(ctx, calendarID, from, to)
}
