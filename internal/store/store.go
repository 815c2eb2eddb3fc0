// Package store persists hosts, their rooms, guests, cohosts, calendars and
// per-day records. PostgresStore is the production backend; MemoryStore
// backs local runs without a database and the package tests of its callers.
//
// Lookups of a missing record return an error wrapping sql.ErrNoRows.
// Constraint violations come back as *calendar.Error values.
package store

import (
	"context"
	"database/sql"

	"staycal/api/internal/calendar"
)

// ErrNotFound is wrapped by every lookup or write of a missing record.
var ErrNotFound = sql.ErrNoRows

// Store is the full persistence surface. Callers depend on narrower
// interfaces of their own; InTx hands them a Store bound to one transaction.
type Store interface {
	CreateHost(ctx context.Context, host Host) error
	GetHost(ctx context.Context, hostID string) (Host, error)
	ListHosts(ctx context.Context) ([]Host, error)
	UpdateHost(ctx context.Context, host Host) error
	DeleteHost(ctx context.Context, hostID string) error

	CreateCohost(ctx context.Context, cohost Cohost) error
	GetCohost(ctx context.Context, cohostID string) (Cohost, error)
	ListCohosts(ctx context.Context, hostID string) ([]Cohost, error)
	UpdateCohost(ctx context.Context, cohost Cohost) error
	DeleteCohosts(ctx context.Context, cohostIDs []string) (int64, error)

	CreateCalendar(ctx context.Context, cal Calendar) error
	GetCalendar(ctx context.Context, calendarID string) (Calendar, error)
	GetCalendarByHost(ctx context.Context, hostID string) (Calendar, error)
	UpdateCalendar(ctx context.Context, cal Calendar) error
	DeleteCalendar(ctx context.Context, calendarID string) error

	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, roomID string) (Room, error)
	ListRooms(ctx context.Context, hostID string) ([]Room, error)
	UpdateRoom(ctx context.Context, room Room) error
	DeleteRooms(ctx context.Context, roomIDs []string) (int64, error)

	CreateGuest(ctx context.Context, guest Guest) error
	GetGuest(ctx context.Context, guestID string) (Guest, error)
	ListGuests(ctx context.Context, hostID string) ([]Guest, error)
	SearchGuests(ctx context.Context, hostID, text string, limit int) ([]Guest, error)
	UpdateGuest(ctx context.Context, guest Guest) error
	DeleteGuests(ctx context.Context, guestIDs []string) (int64, error)
	StripPriceOverrides(ctx context.Context, roomIDs []string) (int64, error)

	GetDay(ctx context.Context, calendarID string, date calendar.Date) (calendar.Day, error)
	ListDays(ctx context.Context, calendarID string, from, to calendar.Date) ([]calendar.Day, error)
	ListDaysWithBooking(ctx context.Context, bookingID string) ([]calendar.Day, error)
	ListDaysWithGuest(ctx context.Context, calendarID, guestID string, from calendar.Date) ([]calendar.Day, error)
	SaveDay(ctx context.Context, day calendar.Day) (calendar.Day, error)
	DeleteDaysByCalendar(ctx context.Context, calendarID string) (int64, error)
	StripRoomsFromDays(ctx context.Context, roomIDs []string) (int64, error)
	StripGuestsFromDays(ctx context.Context, guestIDs []string) (int64, error)

	InTx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
