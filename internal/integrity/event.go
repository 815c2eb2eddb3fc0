// Package integrity owns every mutation of hosts, calendars, rooms, guests
// and cohosts. Each mutation is followed by an Event that the Coordinator
// turns into the cascading writes keeping cross references intact. The
// mutation and its cascade share one store transaction.
package integrity

import "staycal/api/internal/store"

type EntityKind string

const (
	KindHost     EntityKind = "host"
	KindCalendar EntityKind = "calendar"
	KindRoom     EntityKind = "room"
	KindGuest    EntityKind = "guest"
	KindCohost   EntityKind = "cohost"
)

type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// Event describes one committed mutation. IDs all belong to HostID; a bulk
// delete spanning several hosts is split into one event per host.
type Event struct {
	Kind EntityKind
	Op   Op
	IDs  []string
	// HostID is the owning host after the mutation.
	HostID string
	// PrevHostID is set on updates that moved the entity to another host.
	PrevHostID string
	// Guests carries the written guest records for listeners.
	Guests []store.Guest
}

func (e Event) moved() bool {
	return e.Op == OpUpdated && e.PrevHostID != "" && e.PrevHostID != e.HostID
}
