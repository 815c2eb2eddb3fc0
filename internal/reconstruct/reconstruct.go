// Package reconstruct turns per-day booking slices back into stays.
package reconstruct

import (
	"sort"

	"github.com/shopspring/decimal"

	"staycal/api/internal/calendar"
)

// Stay is one contiguous booking of a room by a guest.
// BookingID is the first slice's booking; BookingIDs lists every booking
// merged into the stay, in date order.
type Stay struct {
	BookingID      string          `json:"bookingId"`
	BookingIDs     []string        `json:"bookingIds"`
	GuestID        string          `json:"guestId"`
	RoomID         string          `json:"roomId"`
	StartDate      calendar.Date   `json:"startDate"`
	EndDate        calendar.Date   `json:"endDate"`
	Duration       int             `json:"duration"`
	Alias          string          `json:"alias,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Total          decimal.Decimal `json:"total"`
	NumberOfGuests int             `json:"numberOfGuests"`
	Notes          string          `json:"notes,omitempty"`
	Description    string          `json:"description,omitempty"`
	External       bool            `json:"external"`
}

type runKey struct {
	guestID string
	roomID  string
	// bookingID is set only for external slices, which never merge across
	// their own segment.
	bookingID string
}

// Stays scans days in date order and merges slices of the same guest and
// room on consecutive dates into one Stay. Slices of externalGuestID are
// grouped by booking id instead. Each (date, room) pair is emitted at most
// once.
func Stays(days []calendar.Day, externalGuestID string) []Stay {
	ordered := make([]calendar.Day, len(days))
	copy(ordered, days)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	stays := make([]Stay, 0)
	open := map[runKey]int{}
	covered := map[calendar.Date]map[string]struct{}{}

	for _, day := range ordered {
		for _, slice := range day.Bookings {
			if rooms := covered[day.Date]; rooms != nil {
				if _, dup := rooms[slice.RoomID]; dup {
					continue
				}
			} else {
				covered[day.Date] = map[string]struct{}{}
			}
			covered[day.Date][slice.RoomID] = struct{}{}

			external := externalGuestID != "" && slice.GuestID == externalGuestID
			key := runKey{guestID: slice.GuestID, roomID: slice.RoomID}
			if external {
				key.bookingID = slice.ID
			}

			if idx, ok := open[key]; ok && stays[idx].EndDate.AddDays(1) == day.Date {
				stays[idx].EndDate = day.Date
				stays[idx].Duration++
				stays[idx].Total = stays[idx].Total.Add(slice.Price)
				if ids := stays[idx].BookingIDs; ids[len(ids)-1] != slice.ID {
					stays[idx].BookingIDs = append(ids, slice.ID)
				}
				continue
			}

			open[key] = len(stays)
			stays = append(stays, Stay{
				BookingID:      slice.ID,
				BookingIDs:     []string{slice.ID},
				GuestID:        slice.GuestID,
				RoomID:         slice.RoomID,
				StartDate:      day.Date,
				EndDate:        day.Date,
				Duration:       1,
				Alias:          slice.Alias,
				Price:          slice.Price,
				Total:          slice.Price,
				NumberOfGuests: slice.NumberOfGuests,
				Notes:          slice.Notes,
				Description:    slice.Description,
				External:       external,
			})
		}
	}

	sort.SliceStable(stays, func(i, j int) bool {
		if c := stays[i].StartDate.Compare(stays[j].StartDate); c != 0 {
			return c < 0
		}
		return stays[i].RoomID < stays[j].RoomID
	})
	return stays
}
