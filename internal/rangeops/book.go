package rangeops

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"staycal/api/internal/calendar"
	"staycal/api/internal/log"
	"staycal/api/internal/util"
)

const undoTimeout = 10 * time.Second

type BookRequest struct {
	CalendarID     string
	GuestID        string
	RoomID         string
	Date           calendar.Date
	Duration       int
	NumberOfGuests int
	IsAirBnB       bool
	// Price overrides the guest's room rate when set.
	Price       *decimal.Decimal
	Alias       string
	Notes       string
	Description string
	// BookingID keeps a caller-chosen id for the slices; empty means a new
	// one.
	BookingID string
}

// BookDays writes one booking slice for (guest, room) on Duration
// consecutive days from Date. The whole span is checked before the first
// write; if a later write still fails, the slices already written are
// removed again.
func (e *Engine) BookDays(ctx context.Context, req BookRequest) ([]calendar.Day, error) {
	if req.Duration < 1 {
		return nil, calendar.Validation("Duration must be at least one night.")
	}
	if req.Duration > MaxRangeDays {
		return nil, calendar.Validation("Duration is too long.")
	}
	if req.NumberOfGuests < 0 {
		return nil, calendar.Validation("Number of guests cannot be negative.")
	}
	if req.NumberOfGuests == 0 {
		req.NumberOfGuests = 1
	}
	if err := calendar.CheckDate(req.Date, e.Today()); err != nil {
		return nil, err
	}

	cal, err := e.requireCalendar(ctx, req.CalendarID)
	if err != nil {
		return nil, err
	}
	room, err := e.requireOwnedRoom(ctx, cal, req.RoomID)
	if err != nil {
		return nil, err
	}
	if req.GuestID == "" {
		return nil, calendar.Validation("Guest is required.")
	}
	guest, err := e.days.GetGuest(ctx, req.GuestID)
	if err != nil {
		return nil, referenceOr(err, "Guest not found.")
	}
	if guest.HostID != cal.HostID {
		return nil, calendar.Reference("Guest does not belong to this calendar's host.")
	}

	price := guest.PriceFor(room)
	if req.Price != nil {
		if req.Price.IsNegative() {
			return nil, calendar.Validation("Price cannot be negative.")
		}
		price = *req.Price
	}

	dates := calendar.Span(req.Date, req.Duration)
	if err := e.checkSpan(ctx, req.CalendarID, req.RoomID, dates); err != nil {
		return nil, err
	}

	bookingID := req.BookingID
	if bookingID == "" {
		bookingID = util.NewID("bk")
	}
	slice := calendar.Booking{
		ID:             bookingID,
		GuestID:        req.GuestID,
		RoomID:         req.RoomID,
		Alias:          req.Alias,
		Price:          price,
		Notes:          req.Notes,
		Description:    req.Description,
		Duration:       req.Duration,
		NumberOfGuests: req.NumberOfGuests,
	}

	written := make([]calendar.Day, 0, len(dates))
	for _, date := range dates {
		day, _, err := e.mutateDay(ctx, req.CalendarID, date, true, func(day *calendar.Day) (bool, error) {
			if err := day.AddBooking(slice); err != nil {
				return false, err
			}
			if req.IsAirBnB {
				day.IsAirBnB = true
			}
			return true, nil
		})
		if err != nil {
			if len(written) > 0 {
				e.undoBooking(ctx, req.CalendarID, slice.ID, written)
			}
			return nil, err
		}
		written = append(written, day)
	}
	return written, nil
}

// undoBooking removes the slices of a partially written booking from the
// days it wrote. It outlives ctx, which is often the reason the booking
// failed.
func (e *Engine) undoBooking(ctx context.Context, calendarID, bookingID string, written []calendar.Day) {
	undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), undoTimeout)
	defer cancel()
	for _, day := range written {
		_, _, err := e.mutateDay(undoCtx, calendarID, day.Date, false, func(d *calendar.Day) (bool, error) {
			return d.RemoveBooking(bookingID) > 0, nil
		})
		if err != nil {
			log.Error("undo partial booking failed", err, "booking_id", bookingID, "date", day.Date.String())
		}
	}
}

// checkSpan rejects the whole request if any day in it is blocked, already
// holds the room, or has the room closed.
func (e *Engine) checkSpan(ctx context.Context, calendarID, roomID string, dates []calendar.Date) error {
	existing, err := e.days.ListDays(ctx, calendarID, dates[0], dates[len(dates)-1])
	if err != nil {
		return fmt.Errorf("load span: %w", err)
	}
	for _, day := range existing {
		switch {
		case day.IsBlocked:
			return calendar.Consistency(calendar.MsgBlockedAssigned)
		case day.HasRoom(roomID):
			return calendar.Consistency(fmt.Sprintf("Room is already booked on %s.", day.Date))
		case day.RoomBlocked(roomID):
			return calendar.Consistency(fmt.Sprintf("Room is blocked on %s.", day.Date))
		}
	}
	return nil
}

// UnbookGuest removes every slice of one stay.
func (e *Engine) UnbookGuest(ctx context.Context, bookingID string) ([]calendar.Day, error) {
	if bookingID == "" {
		return nil, calendar.Validation("Booking is required.")
	}
	days, err := e.days.ListDaysWithBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	if len(days) == 0 {
		return nil, calendar.Reference("Booking not found.")
	}

	out := make([]calendar.Day, 0, len(days))
	for _, found := range days {
		day, outcome, err := e.mutateDay(ctx, found.CalendarID, found.Date, false, func(day *calendar.Day) (bool, error) {
			return day.RemoveBooking(bookingID) > 0, nil
		})
		if err != nil {
			return out, err
		}
		if outcome == outcomeModified {
			out = append(out, day)
		}
	}
	return out, nil
}

type UnbookExternalRequest struct {
	CalendarID string
	// GuestID is the host's synthetic external guest.
	GuestID string
	// RoomIDs limits removal to these rooms; empty means every room.
	RoomIDs []string
	// From defaults to today.
	From calendar.Date
}

// UnbookAirBnB removes externally sourced slices from From onward.
func (e *Engine) UnbookAirBnB(ctx context.Context, req UnbookExternalRequest) ([]calendar.Day, error) {
	if req.GuestID == "" {
		return nil, calendar.Validation("Guest is required.")
	}
	if _, err := e.requireCalendar(ctx, req.CalendarID); err != nil {
		return nil, err
	}
	from := req.From
	if from.IsZero() {
		from = e.Today()
	}
	rooms := make(map[string]struct{}, len(req.RoomIDs))
	for _, roomID := range req.RoomIDs {
		rooms[roomID] = struct{}{}
	}

	days, err := e.days.ListDaysWithGuest(ctx, req.CalendarID, req.GuestID, from)
	if err != nil {
		return nil, fmt.Errorf("find external stays: %w", err)
	}
	out := make([]calendar.Day, 0, len(days))
	for _, found := range days {
		day, outcome, err := e.mutateDay(ctx, found.CalendarID, found.Date, false, func(day *calendar.Day) (bool, error) {
			if day.RemoveGuest(req.GuestID, rooms) == 0 {
				return false, nil
			}
			if !slices.ContainsFunc(day.Bookings, func(b calendar.Booking) bool { return b.GuestID == req.GuestID }) {
				day.IsAirBnB = false
			}
			return true, nil
		})
		if err != nil {
			return out, err
		}
		if outcome == outcomeModified {
			out = append(out, day)
		}
	}
	return out, nil
}
