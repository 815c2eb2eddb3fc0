package rangeops

import (
	"context"
	"fmt"

	"staycal/api/internal/calendar"
	"staycal/api/internal/log"
	"staycal/api/internal/store"
)

// BlockDay blocks a single date. A day that already holds a booking is left
// untouched and the call fails with a consistency error.
func (e *Engine) BlockDay(ctx context.Context, calendarID string, date calendar.Date) (calendar.Day, error) {
	if _, err := e.requireCalendar(ctx, calendarID); err != nil {
		return calendar.Day{}, err
	}
	day, _, err := e.mutateDay(ctx, calendarID, date, true, blockEdit)
	if err != nil {
		return calendar.Day{}, err
	}
	return day, nil
}

// BlockManyDays blocks every date after today. Past dates and today are
// skipped, booked days fail on their own, and neither stops the batch.
func (e *Engine) BlockManyDays(ctx context.Context, calendarID string, dates []calendar.Date) (RangeResult, error) {
	if _, err := e.requireCalendar(ctx, calendarID); err != nil {
		return RangeResult{}, err
	}
	return e.applyMany(ctx, "block", calendarID, dates, true, true, blockEdit), nil
}

func (e *Engine) BlockRange(ctx context.Context, calendarID string, start, end calendar.Date) (RangeResult, error) {
	dates, err := rangeDates(start, end)
	if err != nil {
		return RangeResult{}, err
	}
	return e.BlockManyDays(ctx, calendarID, dates)
}

// UnblockDay clears the block on a date. A date with no stored day is
// already open and is returned as such without a write.
func (e *Engine) UnblockDay(ctx context.Context, calendarID string, date calendar.Date) (calendar.Day, error) {
	if date.IsZero() {
		return calendar.Day{}, calendar.Validation("Date is required.")
	}
	if _, err := e.requireCalendar(ctx, calendarID); err != nil {
		return calendar.Day{}, err
	}
	day, _, err := e.mutateDay(ctx, calendarID, date, false, unblockEdit)
	if err != nil {
		return calendar.Day{}, err
	}
	return day, nil
}

func (e *Engine) UnblockManyDays(ctx context.Context, calendarID string, dates []calendar.Date) (RangeResult, error) {
	if _, err := e.requireCalendar(ctx, calendarID); err != nil {
		return RangeResult{}, err
	}
	return e.applyMany(ctx, "unblock", calendarID, dates, false, false, unblockEdit), nil
}

func (e *Engine) UnblockRange(ctx context.Context, calendarID string, start, end calendar.Date) (RangeResult, error) {
	dates, err := rangeDates(start, end)
	if err != nil {
		return RangeResult{}, err
	}
	return e.UnblockManyDays(ctx, calendarID, dates)
}

// BlockRoomDays closes one room on each date after today while the rest of
// the property stays bookable.
func (e *Engine) BlockRoomDays(ctx context.Context, calendarID, roomID string, dates []calendar.Date) (RangeResult, error) {
	if err := e.requireRoomOnCalendar(ctx, calendarID, roomID); err != nil {
		return RangeResult{}, err
	}
	return e.applyMany(ctx, "block room", calendarID, dates, true, true, func(day *calendar.Day) (bool, error) {
		if day.IsBlocked || day.RoomBlocked(roomID) {
			return false, nil
		}
		if err := day.BlockRoom(roomID); err != nil {
			return false, err
		}
		return true, nil
	}), nil
}

func (e *Engine) UnblockRoomDays(ctx context.Context, calendarID, roomID string, dates []calendar.Date) (RangeResult, error) {
	if err := e.requireRoomOnCalendar(ctx, calendarID, roomID); err != nil {
		return RangeResult{}, err
	}
	return e.applyMany(ctx, "unblock room", calendarID, dates, false, false, func(day *calendar.Day) (bool, error) {
		return day.UnblockRoom(roomID), nil
	}), nil
}

func (e *Engine) requireRoomOnCalendar(ctx context.Context, calendarID, roomID string) error {
	cal, err := e.requireCalendar(ctx, calendarID)
	if err != nil {
		return err
	}
	_, err = e.requireOwnedRoom(ctx, cal, roomID)
	return err
}

func (e *Engine) requireOwnedRoom(ctx context.Context, cal store.Calendar, roomID string) (store.Room, error) {
	if roomID == "" {
		return store.Room{}, calendar.Validation("Room is required.")
	}
	room, err := e.days.GetRoom(ctx, roomID)
	if err != nil {
		return store.Room{}, referenceOr(err, "Room not found.")
	}
	if room.HostID != cal.HostID {
		return store.Room{}, calendar.Reference("Room does not belong to this calendar's host.")
	}
	return room, nil
}

// applyMany runs edit for each date as an independent write. With
// futureOnly, dates up to and including today are skipped.
func (e *Engine) applyMany(ctx context.Context, op, calendarID string, dates []calendar.Date, create, futureOnly bool, edit func(*calendar.Day) (bool, error)) RangeResult {
	today := e.Today()
	result := RangeResult{Days: make([]calendar.Day, 0, len(dates))}
	seen := make(map[calendar.Date]struct{}, len(dates))
	for _, date := range dates {
		if _, dup := seen[date]; dup {
			continue
		}
		seen[date] = struct{}{}

		if date.IsZero() || (futureOnly && !date.After(today)) {
			result.Summary.Skipped++
			continue
		}
		day, outcome, err := e.mutateDay(ctx, calendarID, date, create, edit)
		if err != nil {
			result.Summary.Failed++
			log.Debug(fmt.Sprintf("%s skipped a date", op), "calendar_id", calendarID, "date", date.String(), "reason", err.Error())
			continue
		}
		result.record(day, outcome)
	}
	return result
}

func blockEdit(day *calendar.Day) (bool, error) {
	if day.IsBlocked && len(day.Bookings) == 0 {
		return false, nil
	}
	if err := day.Block(); err != nil {
		return false, err
	}
	return true, nil
}

func unblockEdit(day *calendar.Day) (bool, error) {
	if !day.IsBlocked {
		return false, nil
	}
	day.Unblock()
	return true, nil
}
