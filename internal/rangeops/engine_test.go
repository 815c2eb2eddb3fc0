package rangeops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"staycal/api/internal/calendar"
	"staycal/api/internal/reconstruct"
	"staycal/api/internal/store"
)

var fixedNow = time.Date(2025, time.December, 1, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(s.CreateHost(ctx, store.Host{ID: "h1", Name: "Ana", Email: "ana@example.com", CalendarID: "cal_1"}))
	must(s.CreateCalendar(ctx, store.Calendar{ID: "cal_1", HostID: "h1"}))
	must(s.CreateRoom(ctx, store.Room{ID: "r1", HostID: "h1", Name: "Cozy", Price: decimal.NewFromInt(60)}))
	must(s.CreateRoom(ctx, store.Room{ID: "r2", HostID: "h1", Name: "Suite", Price: decimal.NewFromInt(90)}))
	must(s.CreateGuest(ctx, store.Guest{
		ID:             "g1",
		HostID:         "h1",
		Name:           "Bea",
		PriceOverrides: map[string]decimal.Decimal{"r2": decimal.NewFromInt(75)},
	}))
	must(s.CreateGuest(ctx, store.Guest{ID: "ext", HostID: "h1", Name: "Airbnb"}))
	must(s.CreateHost(ctx, store.Host{ID: "h2", Name: "Other", Email: "other@example.com"}))
	must(s.CreateRoom(ctx, store.Room{ID: "r9", HostID: "h2", Name: "Elsewhere"}))

	engine := New(s, time.UTC)
	engine.SetClock(func() time.Time { return fixedNow })
	return engine, s
}

func date(value string) calendar.Date {
	return calendar.MustParseDate(value)
}

func TestBookDaysThenReconstructYieldsOneStay(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	days, err := engine.BookDays(ctx, BookRequest{
		CalendarID:     "cal_1",
		GuestID:        "g1",
		RoomID:         "r1",
		Date:           date("2025-12-10"),
		Duration:       3,
		NumberOfGuests: 2,
	})
	if err != nil {
		t.Fatalf("book days: %v", err)
	}
	if len(days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(days))
	}
	for _, day := range days {
		if day.State() != calendar.StateBooked {
			t.Fatalf("expected booked day, got %s", day.State())
		}
		if !day.Bookings[0].Price.Equal(decimal.NewFromInt(60)) {
			t.Fatalf("expected room price, got %s", day.Bookings[0].Price)
		}
	}

	stays := reconstruct.Stays(days, "ext")
	if len(stays) != 1 {
		t.Fatalf("expected one stay, got %+v", stays)
	}
	if stays[0].StartDate != date("2025-12-10") || stays[0].EndDate != date("2025-12-12") || stays[0].Duration != 3 {
		t.Fatalf("unexpected stay %+v", stays[0])
	}
}

func TestBookDaysUsesGuestPriceOverride(t *testing.T) {
	engine, _ := newTestEngine(t)
	days, err := engine.BookDays(context.Background(), BookRequest{
		CalendarID: "cal_1", GuestID: "g1", RoomID: "r2", Date: date("2025-12-05"), Duration: 1,
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !days[0].Bookings[0].Price.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("expected override price 75, got %s", days[0].Bookings[0].Price)
	}
	if days[0].Bookings[0].NumberOfGuests != 1 {
		t.Fatalf("expected default of one guest, got %d", days[0].Bookings[0].NumberOfGuests)
	}
}

func TestBlockDayOnBookedDayFailsAndLeavesStateUnchanged(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.BookDays(ctx, BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-10"), Duration: 1}); err != nil {
		t.Fatalf("book: %v", err)
	}
	before, _ := s.GetDay(ctx, "cal_1", date("2025-12-10"))

	_, err := engine.BlockDay(ctx, "cal_1", date("2025-12-10"))
	if !errors.Is(err, calendar.ErrConsistency) {
		t.Fatalf("expected consistency error, got %v", err)
	}
	if err.Error() != calendar.MsgBlockedAssigned {
		t.Fatalf("unexpected message %q", err.Error())
	}

	after, _ := s.GetDay(ctx, "cal_1", date("2025-12-10"))
	if after.Version != before.Version || after.IsBlocked || len(after.Bookings) != 1 {
		t.Fatalf("day changed: before %+v after %+v", before, after)
	}
}

func TestBlockRangeIsIdempotent(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.BlockRange(ctx, "cal_1", date("2025-12-03"), date("2025-12-06"))
	if err != nil {
		t.Fatalf("block range: %v", err)
	}
	if first.Summary.Upserted != 4 {
		t.Fatalf("expected 4 upserts, got %+v", first.Summary)
	}

	second, err := engine.BlockRange(ctx, "cal_1", date("2025-12-03"), date("2025-12-06"))
	if err != nil {
		t.Fatalf("block range again: %v", err)
	}
	if second.Summary.Matched != 4 || second.Summary.Modified != 0 || second.Summary.Upserted != 0 {
		t.Fatalf("expected unchanged rerun, got %+v", second.Summary)
	}

	days, _ := s.ListDays(ctx, "cal_1", date("2025-12-01"), date("2025-12-31"))
	if len(days) != 4 {
		t.Fatalf("expected 4 stored days, got %d", len(days))
	}
	for i := range days {
		if days[i].ID != first.Days[i].ID || !days[i].IsBlocked {
			t.Fatalf("day set changed on rerun: %+v", days[i])
		}
	}
}

func TestBlockManyDaysSkipsPastAndKeepsGoingPastFailures(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.BookDays(ctx, BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-04"), Duration: 1}); err != nil {
		t.Fatalf("book: %v", err)
	}

	result, err := engine.BlockManyDays(ctx, "cal_1", []calendar.Date{
		date("2025-11-20"),
		date("2025-12-01"),
		date("2025-12-04"),
		date("2025-12-05"),
		date("2025-12-06"),
	})
	if err != nil {
		t.Fatalf("block many: %v", err)
	}
	want := BulkResult{Upserted: 2, Skipped: 2, Failed: 1}
	if result.Summary != want {
		t.Fatalf("expected %+v, got %+v", want, result.Summary)
	}
	for _, day := range result.Days {
		if !day.IsBlocked || len(day.Bookings) != 0 {
			t.Fatalf("blocked day invariant broken: %+v", day)
		}
	}
}

func TestBookDaysRejectsBlockedSpanWithoutWriting(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.BlockDay(ctx, "cal_1", date("2025-12-11")); err != nil {
		t.Fatalf("block: %v", err)
	}
	_, err := engine.BookDays(ctx, BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-10"), Duration: 3})
	if !errors.Is(err, calendar.ErrConsistency) {
		t.Fatalf("expected consistency error, got %v", err)
	}
	if _, err := s.GetDay(ctx, "cal_1", date("2025-12-10")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no day written before the blocked one, got %v", err)
	}
}

func TestBookDaysRejectsSameRoomTwice(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	req := BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-10"), Duration: 2}
	if _, err := engine.BookDays(ctx, req); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	req.Date = date("2025-12-11")
	if _, err := engine.BookDays(ctx, req); !errors.Is(err, calendar.ErrConsistency) {
		t.Fatalf("expected overlap rejection, got %v", err)
	}
	req.RoomID = "r2"
	if _, err := engine.BookDays(ctx, req); err != nil {
		t.Fatalf("another room on the same day should pass: %v", err)
	}
}

func TestBookDaysValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  BookRequest
		want error
	}{
		{"past date", BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-11-30"), Duration: 1}, calendar.ErrValidation},
		{"zero duration", BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-10")}, calendar.ErrValidation},
		{"missing calendar", BookRequest{CalendarID: "nope", GuestID: "g1", RoomID: "r1", Date: date("2025-12-10"), Duration: 1}, calendar.ErrReference},
		{"missing guest", BookRequest{CalendarID: "cal_1", GuestID: "nope", RoomID: "r1", Date: date("2025-12-10"), Duration: 1}, calendar.ErrReference},
		{"foreign room", BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r9", Date: date("2025-12-10"), Duration: 1}, calendar.ErrReference},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.BookDays(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBookingOnTodayIsAllowed(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.BookDays(context.Background(), BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-01"), Duration: 1}); err != nil {
		t.Fatalf("same-day booking: %v", err)
	}
}

func TestUnbookGuestLeavesDaysOpen(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()
	days, err := engine.BookDays(ctx, BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-10"), Duration: 2})
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	updated, err := engine.UnbookGuest(ctx, days[0].Bookings[0].ID)
	if err != nil {
		t.Fatalf("unbook: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 days updated, got %d", len(updated))
	}
	for _, d := range []string{"2025-12-10", "2025-12-11"} {
		day, _ := s.GetDay(ctx, "cal_1", date(d))
		if day.State() != calendar.StateOpen {
			t.Fatalf("expected %s open, got %s", d, day.State())
		}
	}

	if _, err := engine.UnbookGuest(ctx, "missing"); !errors.Is(err, calendar.ErrReference) {
		t.Fatalf("expected reference error, got %v", err)
	}
}

func TestUnbookAirBnBRemovesOnlyExternalFutureSlices(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.BookDays(ctx, BookRequest{CalendarID: "cal_1", GuestID: "ext", RoomID: "r1", Date: date("2025-12-10"), Duration: 2, IsAirBnB: true, Description: "HM123"}); err != nil {
		t.Fatalf("book external: %v", err)
	}
	if _, err := engine.BookDays(ctx, BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r2", Date: date("2025-12-10"), Duration: 1}); err != nil {
		t.Fatalf("book guest: %v", err)
	}

	updated, err := engine.UnbookAirBnB(ctx, UnbookExternalRequest{CalendarID: "cal_1", GuestID: "ext", RoomIDs: []string{"r1"}})
	if err != nil {
		t.Fatalf("unbook external: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 days updated, got %d", len(updated))
	}

	shared, _ := s.GetDay(ctx, "cal_1", date("2025-12-10"))
	if len(shared.Bookings) != 1 || shared.Bookings[0].GuestID != "g1" {
		t.Fatalf("expected guest booking kept, got %+v", shared.Bookings)
	}
	if shared.IsAirBnB {
		t.Fatal("expected external flag cleared once no external slice remains")
	}
	emptied, _ := s.GetDay(ctx, "cal_1", date("2025-12-11"))
	if emptied.State() != calendar.StateOpen || emptied.IsAirBnB {
		t.Fatalf("expected open non-external day, got %+v", emptied)
	}
}

func TestUnblockMissingDayIsNoop(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	day, err := engine.UnblockDay(ctx, "cal_1", date("2025-12-20"))
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if day.State() != calendar.StateOpen {
		t.Fatalf("expected open day, got %s", day.State())
	}
	if _, err := s.GetDay(ctx, "cal_1", date("2025-12-20")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unblock must not create a day, got %v", err)
	}

	if _, err := engine.BlockRange(ctx, "cal_1", date("2025-12-20"), date("2025-12-21")); err != nil {
		t.Fatalf("block: %v", err)
	}
	result, err := engine.UnblockRange(ctx, "cal_1", date("2025-12-19"), date("2025-12-21"))
	if err != nil {
		t.Fatalf("unblock range: %v", err)
	}
	want := BulkResult{Matched: 2, Modified: 2, Skipped: 1}
	if result.Summary != want {
		t.Fatalf("expected %+v, got %+v", want, result.Summary)
	}
}

func TestRoomBlockKeepsOtherRoomsBookable(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.BlockRoomDays(ctx, "cal_1", "r1", []calendar.Date{date("2025-12-15")})
	if err != nil {
		t.Fatalf("block room: %v", err)
	}
	if result.Summary.Upserted != 1 {
		t.Fatalf("expected one day created, got %+v", result.Summary)
	}

	if _, err := engine.BookDays(ctx, BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-15"), Duration: 1}); !errors.Is(err, calendar.ErrConsistency) {
		t.Fatalf("expected blocked room rejection, got %v", err)
	}
	if _, err := engine.BookDays(ctx, BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r2", Date: date("2025-12-15"), Duration: 1}); err != nil {
		t.Fatalf("other room should stay bookable: %v", err)
	}

	if _, err := engine.UnblockRoomDays(ctx, "cal_1", "r1", []calendar.Date{date("2025-12-15")}); err != nil {
		t.Fatalf("unblock room: %v", err)
	}
	if _, err := engine.BookDays(ctx, BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-15"), Duration: 1}); err != nil {
		t.Fatalf("room should be bookable again: %v", err)
	}
}

func TestBlockRangeRejectsReversedRange(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.BlockRange(context.Background(), "cal_1", date("2025-12-10"), date("2025-12-09")); !errors.Is(err, calendar.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type conflictingStore struct {
	*store.MemoryStore
	conflicts int
}

func (c *conflictingStore) SaveDay(ctx context.Context, day calendar.Day) (calendar.Day, error) {
	if c.conflicts > 0 {
		c.conflicts--
		// Simulate a concurrent writer winning the insert.
		other := calendar.Day{CalendarID: day.CalendarID, Date: day.Date}
		if _, err := c.MemoryStore.SaveDay(ctx, other); err != nil {
			return calendar.Day{}, err
		}
		return calendar.Day{}, calendar.Duplicate("A day already exists for this date.")
	}
	return c.MemoryStore.SaveDay(ctx, day)
}

func TestBlockDayRetriesAfterLostInsertRace(t *testing.T) {
	_, s := newTestEngine(t)
	racing := &conflictingStore{MemoryStore: s, conflicts: 1}
	engine := New(racing, time.UTC)
	engine.SetClock(func() time.Time { return fixedNow })

	day, err := engine.BlockDay(context.Background(), "cal_1", date("2025-12-24"))
	if err != nil {
		t.Fatalf("block after race: %v", err)
	}
	if !day.IsBlocked || day.Version != 2 {
		t.Fatalf("expected merged write on second attempt, got %+v", day)
	}
}

// cancellingStore fails every call once ctx is done, as database/sql does,
// and cancels ctx on the nth SaveDay.
type cancellingStore struct {
	*store.MemoryStore
	cancel   context.CancelFunc
	cancelAt int
	saves    int
}

func (c *cancellingStore) SaveDay(ctx context.Context, day calendar.Day) (calendar.Day, error) {
	if err := ctx.Err(); err != nil {
		return calendar.Day{}, err
	}
	c.saves++
	if c.saves == c.cancelAt {
		c.cancel()
		return calendar.Day{}, ctx.Err()
	}
	return c.MemoryStore.SaveDay(ctx, day)
}

func (c *cancellingStore) GetDay(ctx context.Context, calendarID string, d calendar.Date) (calendar.Day, error) {
	if err := ctx.Err(); err != nil {
		return calendar.Day{}, err
	}
	return c.MemoryStore.GetDay(ctx, calendarID, d)
}

func (c *cancellingStore) ListDaysWithBooking(ctx context.Context, bookingID string) ([]calendar.Day, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.MemoryStore.ListDaysWithBooking(ctx, bookingID)
}

func TestBookDaysUndoesPartialWriteAfterCancel(t *testing.T) {
	_, s := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := &cancellingStore{MemoryStore: s, cancel: cancel, cancelAt: 2}
	engine := New(cancelling, time.UTC)
	engine.SetClock(func() time.Time { return fixedNow })

	_, err := engine.BookDays(ctx, BookRequest{
		CalendarID: "cal_1",
		GuestID:    "g1",
		RoomID:     "r1",
		Date:       date("2025-12-10"),
		Duration:   3,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	days, err := s.ListDays(context.Background(), "cal_1", date("2025-12-10"), date("2025-12-12"))
	if err != nil {
		t.Fatalf("list days: %v", err)
	}
	for _, day := range days {
		if len(day.Bookings) != 0 {
			t.Fatalf("partial booking left on %s: %+v", day.Date, day.Bookings)
		}
	}
}

func TestUnbookingEveryMergedBookingClearsStay(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	for _, start := range []string{"2025-12-10", "2025-12-12"} {
		if _, err := engine.BookDays(ctx, BookRequest{
			CalendarID: "cal_1",
			GuestID:    "g1",
			RoomID:     "r1",
			Date:       date(start),
			Duration:   2,
		}); err != nil {
			t.Fatalf("book %s: %v", start, err)
		}
	}
	days, err := engine.Days(ctx, "cal_1", date("2025-12-10"), date("2025-12-13"))
	if err != nil {
		t.Fatalf("days: %v", err)
	}
	stays := reconstruct.Stays(days, "ext")
	if len(stays) != 1 || len(stays[0].BookingIDs) != 2 {
		t.Fatalf("expected one stay made of two bookings, got %+v", stays)
	}
	for _, id := range stays[0].BookingIDs {
		if _, err := engine.UnbookGuest(ctx, id); err != nil {
			t.Fatalf("unbook %s: %v", id, err)
		}
	}
	days, _ = engine.Days(ctx, "cal_1", date("2025-12-10"), date("2025-12-13"))
	if stays := reconstruct.Stays(days, "ext"); len(stays) != 0 {
		t.Fatalf("expected no stays left, got %+v", stays)
	}
}

func TestBookDaysUndoKeepsEarlierSlicesOfSameBooking(t *testing.T) {
	_, s := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := &cancellingStore{MemoryStore: s, cancel: cancel, cancelAt: 4}
	engine := New(cancelling, time.UTC)
	engine.SetClock(func() time.Time { return fixedNow })

	req := BookRequest{CalendarID: "cal_1", GuestID: "g1", RoomID: "r1", Date: date("2025-12-08"), Duration: 2, BookingID: "ext_1"}
	if _, err := engine.BookDays(ctx, req); err != nil {
		t.Fatalf("first part: %v", err)
	}
	req.Date, req.Duration = date("2025-12-10"), 2
	if _, err := engine.BookDays(ctx, req); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	days, err := s.ListDaysWithBooking(context.Background(), "ext_1")
	if err != nil {
		t.Fatalf("list days: %v", err)
	}
	if len(days) != 2 || days[0].Date.String() != "2025-12-08" || days[1].Date.String() != "2025-12-09" {
		t.Fatalf("expected only the first part kept, got %+v", days)
	}
}
