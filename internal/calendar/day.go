// Package calendar holds the per-day availability record and the rules that
// every Day must satisfy, whichever store persists it.
//
// A Day is in exactly one of three states:
//
//	Open    not blocked, no bookings
//	Blocked IsBlocked, no bookings
//	Booked  one or more bookings, not blocked
//
// Blocked and Booked are mutually exclusive; every mutator below keeps it so.
package calendar

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateOpen    State = "OPEN"
	StateBlocked State = "BLOCKED"
	StateBooked  State = "BOOKED"
)

// Booking is one day's slice of a stay. All slices written by a single
// booking request share ID.
type Booking struct {
	ID             string          `json:"id"`
	GuestID        string          `json:"guestId"`
	RoomID         string          `json:"roomId"`
	Alias          string          `json:"alias,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Notes          string          `json:"notes,omitempty"`
	Description    string          `json:"description,omitempty"`
	Duration       int             `json:"duration"`
	NumberOfGuests int             `json:"numberOfGuests"`
	Date           Date            `json:"date"`
}

type Day struct {
	ID           string    `json:"id"`
	CalendarID   string    `json:"calendarId"`
	Date         Date      `json:"date"`
	IsBlocked    bool      `json:"isBlocked"`
	IsAirBnB     bool      `json:"isAirBnB"`
	Bookings     []Booking `json:"bookings"`
	BlockedRooms []string  `json:"blockedRooms"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (d Day) State() State {
	switch {
	case d.IsBlocked:
		return StateBlocked
	case len(d.Bookings) > 0:
		return StateBooked
	default:
		return StateOpen
	}
}

// HasRoom reports whether roomID already holds a booking on this day.
func (d Day) HasRoom(roomID string) bool {
	for _, b := range d.Bookings {
		if b.RoomID == roomID {
			return true
		}
	}
	return false
}

func (d Day) RoomBlocked(roomID string) bool {
	return slices.Contains(d.BlockedRooms, roomID)
}

func (d *Day) Block() error {
	if len(d.Bookings) > 0 {
		return Consistency(MsgBlockedAssigned)
	}
	d.IsBlocked = true
	return nil
}

func (d *Day) Unblock() {
	d.IsBlocked = false
}

// AddBooking appends one slice. The range engine checks the whole span
// before calling it, so a failure here means the day changed under it.
func (d *Day) AddBooking(b Booking) error {
	if d.IsBlocked {
		return Consistency(MsgBlockedAssigned)
	}
	if d.HasRoom(b.RoomID) {
		return Consistency(fmt.Sprintf("Room is already booked on %s.", d.Date))
	}
	if d.RoomBlocked(b.RoomID) {
		return Consistency(fmt.Sprintf("Room is blocked on %s.", d.Date))
	}
	b.Date = d.Date
	d.Bookings = append(d.Bookings, b)
	return nil
}

// RemoveBooking drops every slice with the given id and reports how many
// went. An emptied day stays Open.
func (d *Day) RemoveBooking(bookingID string) int {
	return d.removeWhere(func(b Booking) bool { return b.ID == bookingID })
}

// RemoveGuest drops every slice that belongs to guestID, optionally limited
// to a set of rooms.
func (d *Day) RemoveGuest(guestID string, rooms map[string]struct{}) int {
	return d.removeWhere(func(b Booking) bool {
		if b.GuestID != guestID {
			return false
		}
		if len(rooms) == 0 {
			return true
		}
		_, ok := rooms[b.RoomID]
		return ok
	})
}

func (d *Day) removeWhere(match func(Booking) bool) int {
	before := len(d.Bookings)
	d.Bookings = slices.DeleteFunc(d.Bookings, match)
	if len(d.Bookings) == 0 {
		d.IsAirBnB = false
	}
	return before - len(d.Bookings)
}

func (d *Day) BlockRoom(roomID string) error {
	if d.IsBlocked {
		return nil
	}
	if d.HasRoom(roomID) {
		return Consistency(fmt.Sprintf("Room is already booked on %s.", d.Date))
	}
	if !d.RoomBlocked(roomID) {
		d.BlockedRooms = append(d.BlockedRooms, roomID)
	}
	return nil
}

func (d *Day) UnblockRoom(roomID string) bool {
	before := len(d.BlockedRooms)
	d.BlockedRooms = slices.DeleteFunc(d.BlockedRooms, func(r string) bool { return r == roomID })
	return before != len(d.BlockedRooms)
}

// CheckDate rejects dates strictly before today. Same-day is allowed.
func CheckDate(date, today Date) error {
	if date.IsZero() {
		return Validation("Date is required.")
	}
	if date.Before(today) {
		return Validation(MsgDateInPast)
	}
	return nil
}

// Validate checks a Day before it is written. The past-date rule applies only
// when the day is new or its date changed; existing past days can still be
// edited (for example stripped by a cascade).
func Validate(d Day, today Date, dateChanged bool) error {
	if d.CalendarID == "" {
		return Validation("Calendar is required.")
	}
	if d.IsBlocked && len(d.Bookings) > 0 {
		return Consistency(MsgBlockedAssigned)
	}
	if dateChanged {
		if err := CheckDate(d.Date, today); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(d.Bookings))
	for _, b := range d.Bookings {
		if b.GuestID == "" || b.RoomID == "" {
			return Validation("A booking needs both a guest and a room.")
		}
		if _, dup := seen[b.RoomID]; dup {
			return Consistency(fmt.Sprintf("Room is already booked on %s.", d.Date))
		}
		seen[b.RoomID] = struct{}{}
		if b.Price.IsNegative() {
			return Validation("Price cannot be negative.")
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing a
// stored value.
func (d Day) Clone() Day {
	out := d
	out.Bookings = slices.Clone(d.Bookings)
	out.BlockedRooms = slices.Clone(d.BlockedRooms)
	return out
}
