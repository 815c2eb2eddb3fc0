package integrity

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"staycal/api/internal/authpw"
	"staycal/api/internal/calendar"
	"staycal/api/internal/log"
	"staycal/api/internal/store"
	"staycal/api/internal/util"
)

// ExternalGuestName names the synthetic guest every host gets for stays
// imported from an external calendar.
const ExternalGuestName = "Airbnb"

// Listener is told about committed events, after the transaction. Failures
// are logged and never undo the mutation.
type Listener interface {
	HandleEvent(ctx context.Context, ev Event) error
}

type Repository struct {
	store       store.Store
	coordinator *Coordinator
	listeners   []Listener
	phoneRegion string
}

func NewRepository(s store.Store, phoneRegion string, listeners ...Listener) *Repository {
	if phoneRegion == "" {
		phoneRegion = "ES"
	}
	return &Repository{
		store:       s,
		coordinator: NewCoordinator(),
		listeners:   listeners,
		phoneRegion: phoneRegion,
	}
}

// mutate runs fn and the cascades of the events it returns in one
// transaction, then notifies listeners.
func (r *Repository) mutate(ctx context.Context, fn func(tx store.Store) ([]Event, error)) error {
	var committed []Event
	err := r.store.InTx(ctx, func(tx store.Store) error {
		events, err := fn(tx)
		if err != nil {
			return err
		}
		for i := 0; i < len(events); i++ {
			more, err := r.coordinator.Handle(ctx, tx, events[i])
			if err != nil {
				return err
			}
			events = append(events, more...)
		}
		committed = events
		return nil
	})
	if err != nil {
		return err
	}
	r.notify(ctx, committed)
	return nil
}

func (r *Repository) notify(ctx context.Context, events []Event) {
	for _, ev := range events {
		for _, listener := range r.listeners {
			if err := listener.HandleEvent(ctx, ev); err != nil {
				log.Error("event listener failed", err, "kind", string(ev.Kind), "op", string(ev.Op), "host_id", ev.HostID)
			}
		}
	}
}

func notFoundAs(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return calendar.Reference(message)
	}
	return err
}

// Hosts

type NewHost struct {
	Name     string
	Email    string
	Password string
}

type HostPatch struct {
	Name  *string
	Email *string
}

// RegisterHost creates a host together with its calendar and its
// synthetic external guest.
func (r *Repository) RegisterHost(ctx context.Context, in NewHost) (store.Host, error) {
	name, err := cleanName(in.Name, "Name")
	if err != nil {
		return store.Host{}, err
	}
	email, err := cleanEmail(in.Email, true)
	if err != nil {
		return store.Host{}, err
	}
	hash, err := authpw.Hash(in.Password)
	if err != nil {
		return store.Host{}, err
	}

	host := store.Host{
		ID:              util.NewID("host"),
		Name:            name,
		Email:           email,
		PasswordHash:    hash,
		ExternalGuestID: util.NewID("guest"),
	}
	cal := store.Calendar{ID: util.NewID("cal"), HostID: host.ID}
	external := store.Guest{
		ID:     host.ExternalGuestID,
		HostID: host.ID,
		Name:   ExternalGuestName,
		Notes:  "Stays imported from the external calendar.",
	}

	err = r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		if err := tx.CreateHost(ctx, host); err != nil {
			return nil, err
		}
		if err := tx.CreateCalendar(ctx, cal); err != nil {
			return nil, err
		}
		if err := tx.CreateGuest(ctx, external); err != nil {
			return nil, err
		}
		return []Event{
			{Kind: KindHost, Op: OpCreated, IDs: []string{host.ID}, HostID: host.ID},
			{Kind: KindCalendar, Op: OpCreated, IDs: []string{cal.ID}, HostID: host.ID},
			{Kind: KindGuest, Op: OpCreated, IDs: []string{external.ID}, HostID: host.ID, Guests: []store.Guest{external}},
		}, nil
	})
	if err != nil {
		return store.Host{}, err
	}
	return r.store.GetHost(ctx, host.ID)
}

func (r *Repository) UpdateHost(ctx context.Context, hostID string, patch HostPatch) (store.Host, error) {
	err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		host, err := tx.GetHost(ctx, hostID)
		if err != nil {
			return nil, notFoundAs(err, "Host not found.")
		}
		if patch.Name != nil {
			if host.Name, err = cleanName(*patch.Name, "Name"); err != nil {
				return nil, err
			}
		}
		if patch.Email != nil {
			if host.Email, err = cleanEmail(*patch.Email, true); err != nil {
				return nil, err
			}
		}
		if err := tx.UpdateHost(ctx, host); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindHost, Op: OpUpdated, IDs: []string{host.ID}, HostID: host.ID}}, nil
	})
	if err != nil {
		return store.Host{}, err
	}
	return r.store.GetHost(ctx, hostID)
}

func (r *Repository) ChangeHostPassword(ctx context.Context, hostID, current, next string) error {
	return r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		host, err := tx.GetHost(ctx, hostID)
		if err != nil {
			return nil, notFoundAs(err, "Host not found.")
		}
		if err := authpw.Check(host.PasswordHash, current); err != nil {
			return nil, calendar.Validation("Current password is incorrect.")
		}
		if host.PasswordHash, err = authpw.Hash(next); err != nil {
			return nil, err
		}
		if err := tx.UpdateHost(ctx, host); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindHost, Op: OpUpdated, IDs: []string{host.ID}, HostID: host.ID}}, nil
	})
}

// DeleteHost removes a host and, through the cascade, its calendar with all
// days, rooms, guests and cohosts. Other hosts are never touched.
func (r *Repository) DeleteHost(ctx context.Context, hostID string) error {
	if hostID == "" {
		return calendar.Reference("Host is required.")
	}
	return r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		if _, err := tx.GetHost(ctx, hostID); err != nil {
			return nil, notFoundAs(err, "Host not found.")
		}
		if err := tx.DeleteHost(ctx, hostID); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindHost, Op: OpDeleted, IDs: []string{hostID}, HostID: hostID}}, nil
	})
}

// SetSyncLink stores the external feed link of one room. An empty link
// removes it.
func (r *Repository) SetSyncLink(ctx context.Context, hostID, roomID, link string) (store.Host, error) {
	clean, err := cleanFeedLink(link)
	if err != nil {
		return store.Host{}, err
	}
	err = r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		host, err := tx.GetHost(ctx, hostID)
		if err != nil {
			return nil, notFoundAs(err, "Host not found.")
		}
		room, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return nil, notFoundAs(err, "Room not found.")
		}
		if room.HostID != host.ID {
			return nil, calendar.Reference("Room does not belong to this host.")
		}
		if host.SyncMap == nil {
			host.SyncMap = map[string]string{}
		}
		if clean == "" {
			delete(host.SyncMap, roomID)
		} else {
			host.SyncMap[roomID] = clean
		}
		if err := tx.UpdateHost(ctx, host); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindHost, Op: OpUpdated, IDs: []string{host.ID}, HostID: host.ID}}, nil
	})
	if err != nil {
		return store.Host{}, err
	}
	return r.store.GetHost(ctx, hostID)
}

// Calendars

func (r *Repository) CreateCalendar(ctx context.Context, hostID string) (store.Calendar, error) {
	cal := store.Calendar{ID: util.NewID("cal"), HostID: hostID}
	err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		if err := tx.CreateCalendar(ctx, cal); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindCalendar, Op: OpCreated, IDs: []string{cal.ID}, HostID: hostID}}, nil
	})
	if err != nil {
		return store.Calendar{}, err
	}
	return r.store.GetCalendar(ctx, cal.ID)
}

// MoveCalendar hands a calendar to another host, which must exist and must
// not already own one.
func (r *Repository) MoveCalendar(ctx context.Context, calendarID, hostID string) (store.Calendar, error) {
	err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		cal, err := tx.GetCalendar(ctx, calendarID)
		if err != nil {
			return nil, notFoundAs(err, "Calendar not found.")
		}
		if cal.HostID == hostID {
			return nil, nil
		}
		prev := cal.HostID
		cal.HostID = hostID
		if err := tx.UpdateCalendar(ctx, cal); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindCalendar, Op: OpUpdated, IDs: []string{cal.ID}, HostID: hostID, PrevHostID: prev}}, nil
	})
	if err != nil {
		return store.Calendar{}, err
	}
	return r.store.GetCalendar(ctx, calendarID)
}

func (r *Repository) DeleteCalendar(ctx context.Context, calendarID string) error {
	return r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		cal, err := tx.GetCalendar(ctx, calendarID)
		if err != nil {
			return nil, notFoundAs(err, "Calendar not found.")
		}
		if err := tx.DeleteCalendar(ctx, calendarID); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindCalendar, Op: OpDeleted, IDs: []string{cal.ID}, HostID: cal.HostID}}, nil
	})
}

// Rooms

type RoomInput struct {
	HostID string
	Name   string
	Price  decimal.Decimal
}

type RoomPatch struct {
	HostID *string
	Name   *string
	Price  *decimal.Decimal
}

func (r *Repository) CreateRoom(ctx context.Context, in RoomInput) (store.Room, error) {
	name, err := cleanName(in.Name, "Room name")
	if err != nil {
		return store.Room{}, err
	}
	if err := checkPrice(in.Price); err != nil {
		return store.Room{}, err
	}
	room := store.Room{ID: util.NewID("room"), HostID: in.HostID, Name: name, Price: in.Price}
	err = r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		if err := tx.CreateRoom(ctx, room); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindRoom, Op: OpCreated, IDs: []string{room.ID}, HostID: room.HostID}}, nil
	})
	if err != nil {
		return store.Room{}, err
	}
	return r.store.GetRoom(ctx, room.ID)
}

func (r *Repository) UpdateRoom(ctx context.Context, roomID string, patch RoomPatch) (store.Room, error) {
	err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		room, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return nil, notFoundAs(err, "Room not found.")
		}
		prev := room.HostID
		if patch.Name != nil {
			if room.Name, err = cleanName(*patch.Name, "Room name"); err != nil {
				return nil, err
			}
		}
		if patch.Price != nil {
			if err := checkPrice(*patch.Price); err != nil {
				return nil, err
			}
			room.Price = *patch.Price
		}
		if patch.HostID != nil {
			room.HostID = *patch.HostID
		}
		if err := tx.UpdateRoom(ctx, room); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindRoom, Op: OpUpdated, IDs: []string{room.ID}, HostID: room.HostID, PrevHostID: prev}}, nil
	})
	if err != nil {
		return store.Room{}, err
	}
	return r.store.GetRoom(ctx, roomID)
}

// DeleteRooms removes rooms and strips them from host lists and sync maps,
// guest price overrides, day bookings and room blocks.
func (r *Repository) DeleteRooms(ctx context.Context, roomIDs []string) (int, error) {
	ids := dedupe(roomIDs)
	if len(ids) == 0 {
		return 0, calendar.Validation("At least one room is required.")
	}
	err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		byHost := map[string][]string{}
		for _, id := range ids {
			room, err := tx.GetRoom(ctx, id)
			if err != nil {
				return nil, notFoundAs(err, "Room not found.")
			}
			byHost[room.HostID] = append(byHost[room.HostID], id)
		}
		if _, err := tx.DeleteRooms(ctx, ids); err != nil {
			return nil, err
		}
		return groupedEvents(KindRoom, byHost), nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Guests

type GuestInput struct {
	HostID         string
	Name           string
	Phone          string
	Email          string
	PriceOverrides map[string]decimal.Decimal
	Returning      bool
	Notes          string
}

// GuestPatch leaves nil fields unchanged. A non-nil PriceOverrides replaces
// the whole map.
type GuestPatch struct {
	HostID         *string
	Name           *string
	Phone          *string
	Email          *string
	PriceOverrides map[string]decimal.Decimal
	Returning      *bool
	Notes          *string
}

func (r *Repository) CreateGuest(ctx context.Context, in GuestInput) (store.Guest, error) {
	guest := store.Guest{
		ID:             util.NewID("guest"),
		HostID:         in.HostID,
		PriceOverrides: in.PriceOverrides,
		Returning:      in.Returning,
		Notes:          in.Notes,
	}
	var err error
	if guest.Name, err = cleanName(in.Name, "Name"); err != nil {
		return store.Guest{}, err
	}
	if guest.Phone, err = cleanPhone(in.Phone, r.phoneRegion); err != nil {
		return store.Guest{}, err
	}
	if guest.Email, err = cleanEmail(in.Email, false); err != nil {
		return store.Guest{}, err
	}

	err = r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		if err := checkOverrides(ctx, tx, guest.HostID, guest.PriceOverrides); err != nil {
			return nil, err
		}
		if err := tx.CreateGuest(ctx, guest); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindGuest, Op: OpCreated, IDs: []string{guest.ID}, HostID: guest.HostID, Guests: []store.Guest{guest}}}, nil
	})
	if err != nil {
		return store.Guest{}, err
	}
	return r.store.GetGuest(ctx, guest.ID)
}

func (r *Repository) UpdateGuest(ctx context.Context, guestID string, patch GuestPatch) (store.Guest, error) {
	err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		guest, err := tx.GetGuest(ctx, guestID)
		if err != nil {
			return nil, notFoundAs(err, "Guest not found.")
		}
		prev := guest.HostID
		if patch.HostID != nil && *patch.HostID != prev {
			guest.HostID = *patch.HostID
			// Overrides name rooms of the old host.
			guest.PriceOverrides = nil
		}
		if patch.Name != nil {
			if guest.Name, err = cleanName(*patch.Name, "Name"); err != nil {
				return nil, err
			}
		}
		if patch.Phone != nil {
			if guest.Phone, err = cleanPhone(*patch.Phone, r.phoneRegion); err != nil {
				return nil, err
			}
		}
		if patch.Email != nil {
			if guest.Email, err = cleanEmail(*patch.Email, false); err != nil {
				return nil, err
			}
		}
		if patch.PriceOverrides != nil {
			guest.PriceOverrides = patch.PriceOverrides
		}
		if patch.Returning != nil {
			guest.Returning = *patch.Returning
		}
		if patch.Notes != nil {
			guest.Notes = *patch.Notes
		}
		if err := checkOverrides(ctx, tx, guest.HostID, guest.PriceOverrides); err != nil {
			return nil, err
		}
		if err := tx.UpdateGuest(ctx, guest); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindGuest, Op: OpUpdated, IDs: []string{guest.ID}, HostID: guest.HostID, PrevHostID: prev, Guests: []store.Guest{guest}}}, nil
	})
	if err != nil {
		return store.Guest{}, err
	}
	return r.store.GetGuest(ctx, guestID)
}

// DeleteGuests removes guests and strips their bookings from every day. A
// host's external guest cannot be deleted while the host exists.
func (r *Repository) DeleteGuests(ctx context.Context, guestIDs []string) (int, error) {
	ids := dedupe(guestIDs)
	if len(ids) == 0 {
		return 0, calendar.Validation("At least one guest is required.")
	}
	err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		byHost := map[string][]string{}
		for _, id := range ids {
			guest, err := tx.GetGuest(ctx, id)
			if err != nil {
				return nil, notFoundAs(err, "Guest not found.")
			}
			if host, err := tx.GetHost(ctx, guest.HostID); err == nil && host.ExternalGuestID == id {
				return nil, calendar.Validation("The external bookings guest cannot be deleted.")
			}
			byHost[guest.HostID] = append(byHost[guest.HostID], id)
		}
		if _, err := tx.DeleteGuests(ctx, ids); err != nil {
			return nil, err
		}
		return groupedEvents(KindGuest, byHost), nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func checkOverrides(ctx context.Context, tx store.Store, hostID string, overrides map[string]decimal.Decimal) error {
	for roomID, price := range overrides {
		if err := checkPrice(price); err != nil {
			return err
		}
		room, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return notFoundAs(err, "Room not found.")
		}
		if room.HostID != hostID {
			return calendar.Reference("Room does not belong to this host.")
		}
	}
	return nil
}

// Cohosts

type CohostInput struct {
	HostID   string
	Name     string
	Email    string
	Password string
}

type CohostPatch struct {
	HostID *string
	Name   *string
	Email  *string
}

func (r *Repository) CreateCohost(ctx context.Context, in CohostInput) (store.Cohost, error) {
	cohost := store.Cohost{ID: util.NewID("cohost"), HostID: in.HostID}
	var err error
	if cohost.Name, err = cleanName(in.Name, "Name"); err != nil {
		return store.Cohost{}, err
	}
	if cohost.Email, err = cleanEmail(in.Email, false); err != nil {
		return store.Cohost{}, err
	}
	if in.Password != "" {
		if cohost.PasswordHash, err = authpw.Hash(in.Password); err != nil {
			return store.Cohost{}, err
		}
	}
	err = r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		if err := tx.CreateCohost(ctx, cohost); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindCohost, Op: OpCreated, IDs: []string{cohost.ID}, HostID: cohost.HostID}}, nil
	})
	if err != nil {
		return store.Cohost{}, err
	}
	return r.store.GetCohost(ctx, cohost.ID)
}

func (r *Repository) UpdateCohost(ctx context.Context, cohostID string, patch CohostPatch) (store.Cohost, error) {
	err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		cohost, err := tx.GetCohost(ctx, cohostID)
		if err != nil {
			return nil, notFoundAs(err, "Cohost not found.")
		}
		prev := cohost.HostID
		if patch.HostID != nil {
			cohost.HostID = *patch.HostID
		}
		if patch.Name != nil {
			if cohost.Name, err = cleanName(*patch.Name, "Name"); err != nil {
				return nil, err
			}
		}
		if patch.Email != nil {
			if cohost.Email, err = cleanEmail(*patch.Email, false); err != nil {
				return nil, err
			}
		}
		if err := tx.UpdateCohost(ctx, cohost); err != nil {
			return nil, err
		}
		return []Event{{Kind: KindCohost, Op: OpUpdated, IDs: []string{cohost.ID}, HostID: cohost.HostID, PrevHostID: prev}}, nil
	})
	if err != nil {
		return store.Cohost{}, err
	}
	return r.store.GetCohost(ctx, cohostID)
}

func (r *Repository) DeleteCohosts(ctx context.Context, cohostIDs []string) (int, error) {
	ids := dedupe(cohostIDs)
	if len(ids) == 0 {
		return 0, calendar.Validation("At least one cohost is required.")
	}
	err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
		byHost := map[string][]string{}
		for _, id := range ids {
			cohost, err := tx.GetCohost(ctx, id)
			if err != nil {
				return nil, notFoundAs(err, "Cohost not found.")
			}
			byHost[cohost.HostID] = append(byHost[cohost.HostID], id)
		}
		if _, err := tx.DeleteCohosts(ctx, ids); err != nil {
			return nil, err
		}
		return groupedEvents(KindCohost, byHost), nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func groupedEvents(kind EntityKind, byHost map[string][]string) []Event {
	hosts := make([]string, 0, len(byHost))
	for hostID := range byHost {
		hosts = append(hosts, hostID)
	}
	slices.Sort(hosts)
	events := make([]Event, 0, len(hosts))
	for _, hostID := range hosts {
		events = append(events, Event{Kind: kind, Op: OpDeleted, IDs: byHost[hostID], HostID: hostID})
	}
	return events
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Verify re-runs the cascade for every host reference, repairing lists
// that point at missing records. It is safe to call at any time.
func (r *Repository) Verify(ctx context.Context) (int, error) {
	hosts, err := r.store.ListHosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list hosts: %w", err)
	}
	repaired := 0
	for _, host := range hosts {
		err := r.mutate(ctx, func(tx store.Store) ([]Event, error) {
			current, err := tx.GetHost(ctx, host.ID)
			if err != nil {
				return nil, nil
			}
			var events []Event
			roomExists := func(id string) error {
				_, err := tx.GetRoom(ctx, id)
				return err
			}
			guestExists := func(id string) error {
				_, err := tx.GetGuest(ctx, id)
				return err
			}
			cohostExists := func(id string) error {
				_, err := tx.GetCohost(ctx, id)
				return err
			}
			if stale := missing(current.RoomIDs, roomExists); len(stale) > 0 {
				events = append(events, Event{Kind: KindRoom, Op: OpDeleted, IDs: stale, HostID: host.ID})
			}
			if stale := missing(current.GuestIDs, guestExists); len(stale) > 0 {
				events = append(events, Event{Kind: KindGuest, Op: OpDeleted, IDs: stale, HostID: host.ID})
			}
			if stale := missing(current.CohostIDs, cohostExists); len(stale) > 0 {
				events = append(events, Event{Kind: KindCohost, Op: OpDeleted, IDs: stale, HostID: host.ID})
			}
			repaired += len(events)
			return events, nil
		})
		if err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}

func missing(ids []string, get func(string) error) []string {
	var stale []string
	for _, id := range ids {
		if errors.Is(get(id), store.ErrNotFound) {
			stale = append(stale, id)
		}
	}
	return stale
}
