package occupancy

import (
	"math"
	"testing"
	"time"

	"staycal/api/internal/calendar"
	"staycal/api/internal/store"
)

func booked(date string, rooms ...string) calendar.Day {
	day := calendar.Day{Date: calendar.MustParseDate(date)}
	for _, room := range rooms {
		day.Bookings = append(day.Bookings, calendar.Booking{ID: "bk_" + room, GuestID: "g1", RoomID: room})
	}
	return day
}

func TestRoomOccupancyFiveOfThirty(t *testing.T) {
	days := []calendar.Day{
		booked("2025-11-03", "cozy"),
		booked("2025-11-04", "cozy"),
		booked("2025-11-10", "cozy"),
		booked("2025-11-11", "cozy"),
		booked("2025-11-30", "cozy"),
		booked("2025-12-01", "cozy"),
	}
	report := Calculate(Input{
		Year:  2025,
		Month: time.November,
		Days:  days,
		Rooms: []store.Room{{ID: "cozy", Name: "Cozy"}},
	})

	if report.DaysInMonth != 30 {
		t.Fatalf("expected 30 days, got %d", report.DaysInMonth)
	}
	got := report.Rooms[0]
	if got.OccupiedDays != 5 {
		t.Fatalf("expected 5 occupied days, got %d", got.OccupiedDays)
	}
	if math.Abs(got.Percent-16.67) > 0.01 {
		t.Fatalf("expected about 16.67, got %v", got.Percent)
	}
	if math.Abs(report.Total-16.67) > 0.01 {
		t.Fatalf("expected total about 16.67, got %v", report.Total)
	}
}

func TestTotalSkipsExcludedRoom(t *testing.T) {
	days := []calendar.Day{
		booked("2025-02-01", "a", "b", "staff"),
		booked("2025-02-02", "a", "staff"),
	}
	report := Calculate(Input{
		Year:            2025,
		Month:           time.February,
		Days:            days,
		Rooms:           []store.Room{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "staff", Name: "Staff"}},
		ExcludeRoomName: "staff",
	})

	// (2 + 1) / (2 * 28)
	want := math.Round(3.0/56.0*10000) / 100
	if report.Total != want {
		t.Fatalf("expected %v, got %v", want, report.Total)
	}
	if !report.Rooms[2].Excluded || report.Rooms[2].OccupiedDays != 2 {
		t.Fatalf("expected excluded room still reported, got %+v", report.Rooms[2])
	}
}

func TestNoRoomsGivesZero(t *testing.T) {
	report := Calculate(Input{Year: 2024, Month: time.February})
	if report.Total != 0 || report.DaysInMonth != 29 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestDuplicateSlicesCountOnce(t *testing.T) {
	day := booked("2025-03-05", "a")
	report := Calculate(Input{
		Year:  2025,
		Month: time.March,
		Days:  []calendar.Day{day, day},
		Rooms: []store.Room{{ID: "a", Name: "A"}},
	})
	if report.Rooms[0].OccupiedDays != 1 {
		t.Fatalf("expected one distinct day, got %d", report.Rooms[0].OccupiedDays)
	}
}
