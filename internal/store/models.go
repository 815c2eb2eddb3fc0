package store

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type Host struct {
	ID              string
	Name            string
	Email           string
	PasswordHash    string
	CalendarID      string
	RoomIDs         []string
	GuestIDs        []string
	CohostIDs       []string
	// SyncMap maps a room id to its external calendar feed link.
	SyncMap         map[string]string
	ExternalGuestID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Cohost struct {
	ID           string
	HostID       string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Calendar struct {
	ID        string
	HostID    string
	CreatedAt time.Time
}

type Room struct {
	ID        string
	HostID    string
	Name      string
	Price     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Guest struct {
	ID             string
	HostID         string
	Name           string
	// Phone is stored in canonical national format.
	Phone          string
	Email          string
	PriceOverrides map[string]decimal.Decimal
	Returning      bool
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PriceFor returns the guest's override for roomID, falling back to the
// room's own price.
func (g Guest) PriceFor(room Room) decimal.Decimal {
	if price, ok := g.PriceOverrides[room.ID]; ok {
		return price
	}
	return room.Price
}

func (h Host) clone() Host {
	out := h
	out.RoomIDs = slices.Clone(h.RoomIDs)
	out.GuestIDs = slices.Clone(h.GuestIDs)
	out.CohostIDs = slices.Clone(h.CohostIDs)
	out.SyncMap = cloneMap(h.SyncMap)
	return out
}

func (g Guest) clone() Guest {
	out := g
	out.PriceOverrides = cloneMap(g.PriceOverrides)
	return out
}

func cloneMap[V any](in map[string]V) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
