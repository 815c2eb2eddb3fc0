package app

import (
	"time"

	"github.com/shopspring/decimal"

	"staycal/api/internal/calendar"
	"staycal/api/internal/conflict"
	"staycal/api/internal/rangeops"
	"staycal/api/internal/store"
)

// HostView is a host as returned to clients. Credentials never leave the
// service.
type HostView struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Email           string            `json:"email"`
	CalendarID      string            `json:"calendarId"`
	RoomIDs         []string          `json:"rooms"`
	GuestIDs        []string          `json:"guests"`
	CohostIDs       []string          `json:"cohosts"`
	SyncMap         map[string]string `json:"syncMap"`
	ExternalGuestID string            `json:"externalGuestId"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

type RoomView struct {
	ID        string          `json:"id"`
	HostID    string          `json:"hostId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type GuestView struct {
	ID             string                     `json:"id"`
	HostID         string                     `json:"hostId"`
	Name           string                     `json:"name"`
	Phone          string                     `json:"phone"`
	Email          string                     `json:"email"`
	PriceOverrides map[string]decimal.Decimal `json:"priceOverrides"`
	Returning      bool                       `json:"returning"`
	Notes          string                     `json:"notes"`
	CreatedAt      time.Time                  `json:"createdAt"`
}

type CohostView struct {
	ID        string    `json:"id"`
	HostID    string    `json:"hostId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// BookingView is the outcome of a booking request. Conflict is set for
// direct bookings when the calendar has a synced advisory.
type BookingView struct {
	Days     []calendar.Day   `json:"days"`
	Conflict *conflict.Result `json:"conflict,omitempty"`
}

type DaysView struct {
	Days    []calendar.Day       `json:"days"`
	Summary rangeops.BulkResult `json:"summary"`
}

type DeletedView struct {
	Deleted int `json:"deleted"`
}

func hostView(h store.Host) HostView {
	return HostView{
		ID:              h.ID,
		Name:            h.Name,
		Email:           h.Email,
		CalendarID:      h.CalendarID,
		RoomIDs:         nonNilStrings(h.RoomIDs),
		GuestIDs:        nonNilStrings(h.GuestIDs),
		CohostIDs:       nonNilStrings(h.CohostIDs),
		SyncMap:         nonNilMap(h.SyncMap),
		ExternalGuestID: h.ExternalGuestID,
		CreatedAt:       h.CreatedAt,
		UpdatedAt:       h.UpdatedAt,
	}
}

func roomView(r store.Room) RoomView {
	return RoomView{ID: r.ID, HostID: r.HostID, Name: r.Name, Price: r.Price, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func guestView(g store.Guest) GuestView {
	overrides := g.PriceOverrides
	if overrides == nil {
		overrides = map[string]decimal.Decimal{}
	}
	return GuestView{
		ID:             g.ID,
		HostID:         g.HostID,
		Name:           g.Name,
		Phone:          g.Phone,
		Email:          g.Email,
		PriceOverrides: overrides,
		Returning:      g.Returning,
		Notes:          g.Notes,
		CreatedAt:      g.CreatedAt,
	}
}

func cohostView(c store.Cohost) CohostView {
	return CohostView{ID: c.ID, HostID: c.HostID, Name: c.Name, Email: c.Email, CreatedAt: c.CreatedAt}
}

func daysView(res rangeops.RangeResult) DaysView {
	days := res.Days
	if days == nil {
		days = []calendar.Day{}
	}
	return DaysView{Days: days, Summary: res.Summary}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilMap(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	return in
}

func nonNilDays(in []calendar.Day) []calendar.Day {
	if in == nil {
		return []calendar.Day{}
	}
	return in
}
