package integrity

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"staycal/api/internal/calendar"
	"staycal/api/internal/store"
)

// Coordinator applies the cascade for an event. Every handler is
// idempotent: set-add, set-remove and strip-by-id, so replaying an event
// is harmless.
type Coordinator struct{}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Handle runs the cascade for ev against tx and returns the events the
// cascade itself produced, such as the guests removed with their host.
func (c *Coordinator) Handle(ctx context.Context, tx store.Store, ev Event) ([]Event, error) {
	switch ev.Kind {
	case KindHost:
		if ev.Op == OpDeleted {
			return c.hostDeleted(ctx, tx, ev.HostID)
		}
		return nil, nil
	case KindCalendar:
		return nil, c.calendarChanged(ctx, tx, ev)
	case KindRoom, KindGuest, KindCohost:
		return nil, c.memberChanged(ctx, tx, ev)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", ev.Kind)
	}
}

func (c *Coordinator) calendarChanged(ctx context.Context, tx store.Store, ev Event) error {
	for _, calendarID := range ev.IDs {
		switch {
		case ev.Op == OpCreated:
			if err := setHostCalendar(ctx, tx, ev.HostID, calendarID, true); err != nil {
				return err
			}
		case ev.moved():
			if err := setHostCalendar(ctx, tx, ev.HostID, calendarID, true); err != nil {
				return err
			}
			if err := unsetHostCalendar(ctx, tx, ev.PrevHostID, calendarID); err != nil {
				return err
			}
		case ev.Op == OpDeleted:
			if _, err := tx.DeleteDaysByCalendar(ctx, calendarID); err != nil {
				return fmt.Errorf("delete calendar days: %w", err)
			}
			if err := unsetHostCalendar(ctx, tx, ev.HostID, calendarID); err != nil {
				return err
			}
		}
	}
	return nil
}

func setHostCalendar(ctx context.Context, tx store.Store, hostID, calendarID string, required bool) error {
	host, err := loadHost(ctx, tx, hostID, required)
	if err != nil || host == nil {
		return err
	}
	if host.CalendarID == calendarID {
		return nil
	}
	host.CalendarID = calendarID
	return tx.UpdateHost(ctx, *host)
}

func unsetHostCalendar(ctx context.Context, tx store.Store, hostID, calendarID string) error {
	host, err := loadHost(ctx, tx, hostID, false)
	if err != nil || host == nil {
		return err
	}
	if host.CalendarID != calendarID {
		return nil
	}
	host.CalendarID = ""
	return tx.UpdateHost(ctx, *host)
}

func (c *Coordinator) memberChanged(ctx context.Context, tx store.Store, ev Event) error {
	attach := func(h *store.Host) bool {
		return addIDs(listOf(h, ev.Kind), ev.IDs)
	}
	detach := func(h *store.Host) bool {
		changed := removeIDs(listOf(h, ev.Kind), ev.IDs)
		if ev.Kind == KindRoom {
			for _, id := range ev.IDs {
				if _, ok := h.SyncMap[id]; ok {
					delete(h.SyncMap, id)
					changed = true
				}
			}
		}
		return changed
	}

	switch {
	case ev.Op == OpCreated:
		return editHost(ctx, tx, ev.HostID, true, attach)
	case ev.moved():
		if err := editHost(ctx, tx, ev.HostID, true, attach); err != nil {
			return err
		}
		return editHost(ctx, tx, ev.PrevHostID, false, detach)
	case ev.Op == OpDeleted:
		if err := editHost(ctx, tx, ev.HostID, false, detach); err != nil {
			return err
		}
		switch ev.Kind {
		case KindRoom:
			if _, err := tx.StripPriceOverrides(ctx, ev.IDs); err != nil {
				return fmt.Errorf("strip price overrides: %w", err)
			}
			if _, err := tx.StripRoomsFromDays(ctx, ev.IDs); err != nil {
				return fmt.Errorf("strip rooms from days: %w", err)
			}
		case KindGuest:
			if _, err := tx.StripGuestsFromDays(ctx, ev.IDs); err != nil {
				return fmt.Errorf("strip guests from days: %w", err)
			}
		}
	}
	return nil
}

func (c *Coordinator) hostDeleted(ctx context.Context, tx store.Store, hostID string) ([]Event, error) {
	var cascaded []Event

	cal, err := tx.GetCalendarByHost(ctx, hostID)
	switch {
	case err == nil:
		if _, err := tx.DeleteDaysByCalendar(ctx, cal.ID); err != nil {
			return nil, fmt.Errorf("delete host days: %w", err)
		}
		if err := tx.DeleteCalendar(ctx, cal.ID); err != nil {
			return nil, fmt.Errorf("delete host calendar: %w", err)
		}
		cascaded = append(cascaded, Event{Kind: KindCalendar, Op: OpDeleted, IDs: []string{cal.ID}, HostID: hostID})
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load host calendar: %w", err)
	}

	rooms, err := tx.ListRooms(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("list host rooms: %w", err)
	}
	if ids := roomIDs(rooms); len(ids) > 0 {
		if _, err := tx.DeleteRooms(ctx, ids); err != nil {
			return nil, fmt.Errorf("delete host rooms: %w", err)
		}
		cascaded = append(cascaded, Event{Kind: KindRoom, Op: OpDeleted, IDs: ids, HostID: hostID})
	}

	guests, err := tx.ListGuests(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("list host guests: %w", err)
	}
	if ids := guestIDs(guests); len(ids) > 0 {
		if _, err := tx.DeleteGuests(ctx, ids); err != nil {
			return nil, fmt.Errorf("delete host guests: %w", err)
		}
		cascaded = append(cascaded, Event{Kind: KindGuest, Op: OpDeleted, IDs: ids, HostID: hostID})
	}

	cohosts, err := tx.ListCohosts(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("list host cohosts: %w", err)
	}
	if len(cohosts) > 0 {
		ids := make([]string, 0, len(cohosts))
		for _, cohost := range cohosts {
			ids = append(ids, cohost.ID)
		}
		if _, err := tx.DeleteCohosts(ctx, ids); err != nil {
			return nil, fmt.Errorf("delete host cohosts: %w", err)
		}
		cascaded = append(cascaded, Event{Kind: KindCohost, Op: OpDeleted, IDs: ids, HostID: hostID})
	}
	return cascaded, nil
}

// loadHost fetches a host. A missing host is a reference error when
// required and silently skipped otherwise, as when the host went first.
func loadHost(ctx context.Context, tx store.Store, hostID string, required bool) (*store.Host, error) {
	if hostID == "" {
		if required {
			return nil, calendar.Reference("Host is required.")
		}
		return nil, nil
	}
	host, err := tx.GetHost(ctx, hostID)
	if errors.Is(err, store.ErrNotFound) {
		if required {
			return nil, calendar.Reference("Host not found.")
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &host, nil
}

func editHost(ctx context.Context, tx store.Store, hostID string, required bool, edit func(*store.Host) bool) error {
	host, err := loadHost(ctx, tx, hostID, required)
	if err != nil || host == nil {
		return err
	}
	if !edit(host) {
		return nil
	}
	return tx.UpdateHost(ctx, *host)
}

func listOf(h *store.Host, kind EntityKind) *[]string {
	switch kind {
	case KindRoom:
		return &h.RoomIDs
	case KindGuest:
		return &h.GuestIDs
	default:
		return &h.CohostIDs
	}
}

func addIDs(list *[]string, ids []string) bool {
	changed := false
	for _, id := range ids {
		if !slices.Contains(*list, id) {
			*list = append(*list, id)
			changed = true
		}
	}
	return changed
}

func removeIDs(list *[]string, ids []string) bool {
	before := len(*list)
	*list = slices.DeleteFunc(*list, func(id string) bool { return slices.Contains(ids, id) })
	return before != len(*list)
}

func roomIDs(rooms []store.Room) []string {
	ids := make([]string, 0, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.ID)
	}
	return ids
}

func guestIDs(guests []store.Guest) []string {
	ids := make([]string, 0, len(guests))
	for _, guest := range guests {
		ids = append(ids, guest.ID)
	}
	return ids
}
