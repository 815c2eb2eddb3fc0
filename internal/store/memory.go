package store

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"staycal/api/internal/calendar"
	"staycal/api/internal/util"
)

type dayKey struct {
	calendarID string
	date       calendar.Date
}

type memoryState struct {
	hosts     map[string]Host
	cohosts   map[string]Cohost
	calendars map[string]Calendar
	rooms     map[string]Room
	guests    map[string]Guest
	days      map[string]calendar.Day
	dayIndex  map[dayKey]string
}

func newMemoryState() memoryState {
	return memoryState{
		hosts:     map[string]Host{},
		cohosts:   map[string]Cohost{},
		calendars: map[string]Calendar{},
		rooms:     map[string]Room{},
		guests:    map[string]Guest{},
		days:      map[string]calendar.Day{},
		dayIndex:  map[dayKey]string{},
	}
}

func (m memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range m.hosts {
		out.hosts[k] = v.clone()
	}
	for k, v := range m.cohosts {
		out.cohosts[k] = v
	}
	for k, v := range m.calendars {
		out.calendars[k] = v
	}
	for k, v := range m.rooms {
		out.rooms[k] = v
	}
	for k, v := range m.guests {
		out.guests[k] = v.clone()
	}
	for k, v := range m.days {
		out.days[k] = v.Clone()
	}
	for k, v := range m.dayIndex {
		out.dayIndex[k] = v
	}
	return out
}

// MemoryStore keeps everything in process memory. It enforces the same
// uniqueness and day rules as the Postgres schema. Transactions are
// serialised; each runs against a private copy of the state and only the
// records it changed are merged back on commit.
type MemoryStore struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state memoryState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState(), now: time.Now}
}

type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) InTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}

func (s *MemoryStore) InTx(_ context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	base := s.state.clone()
	s.mu.RUnlock()

	work := &MemoryStore{state: base.clone(), now: s.now}
	if err := fn(memoryTx{work}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.merge(base, work.state)
}

// merge applies the difference between base and next to m. Writes made to m
// outside the transaction survive unless they touched the same day, in which
// case the transaction fails as a concurrent write.
func (m memoryState) merge(base, next memoryState) error {
	for id, day := range next.days {
		old, existed := base.days[id]
		if existed && reflect.DeepEqual(old, day) {
			continue
		}
		if existed {
			if live, ok := m.days[id]; !ok || live.Version != old.Version {
				return calendar.Consistency(calendar.MsgConcurrentWrite)
			}
			continue
		}
		if liveID, ok := m.dayIndex[dayKey{day.CalendarID, day.Date}]; ok && liveID != id {
			return calendar.Consistency(calendar.MsgConcurrentWrite)
		}
	}
	for id, old := range base.days {
		if _, kept := next.days[id]; kept {
			continue
		}
		if live, ok := m.days[id]; ok && live.Version != old.Version {
			return calendar.Consistency(calendar.MsgConcurrentWrite)
		}
	}

	mergeMap(m.hosts, base.hosts, next.hosts)
	mergeMap(m.cohosts, base.cohosts, next.cohosts)
	mergeMap(m.calendars, base.calendars, next.calendars)
	mergeMap(m.rooms, base.rooms, next.rooms)
	mergeMap(m.guests, base.guests, next.guests)
	mergeMap(m.days, base.days, next.days)
	mergeMap(m.dayIndex, base.dayIndex, next.dayIndex)

	// Days written outside the transaction on a calendar it deleted.
	for calendarID := range base.calendars {
		if _, kept := next.calendars[calendarID]; kept {
			continue
		}
		for id, day := range m.days {
			if day.CalendarID == calendarID {
				delete(m.days, id)
				delete(m.dayIndex, dayKey{day.CalendarID, day.Date})
			}
		}
	}
	return nil
}

func mergeMap[K comparable, V any](live, base, next map[K]V) {
	for k := range base {
		if _, ok := next[k]; !ok {
			delete(live, k)
		}
	}
	for k, v := range next {
		if old, ok := base[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		live[k] = v
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
}

// Hosts

func (s *MemoryStore) CreateHost(_ context.Context, host Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.hosts[host.ID]; exists {
		return calendar.Duplicate("Duplicate record.")
	}
	if err := s.checkHostEmail(host); err != nil {
		return err
	}
	now := s.now().UTC()
	host.CreatedAt, host.UpdatedAt = now, now
	s.state.hosts[host.ID] = host.clone()
	return nil
}

func (s *MemoryStore) checkHostEmail(host Host) error {
	for _, other := range s.state.hosts {
		if other.ID != host.ID && strings.EqualFold(other.Email, host.Email) {
			return calendar.Duplicate(constraintMessages["hosts_email_key"])
		}
	}
	return nil
}

func (s *MemoryStore) GetHost(_ context.Context, hostID string) (Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	host, ok := s.state.hosts[hostID]
	if !ok {
		return Host{}, notFound("get host")
	}
	return host.clone(), nil
}

func (s *MemoryStore) ListHosts(context.Context) ([]Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Host, 0, len(s.state.hosts))
	for _, host := range s.state.hosts {
		items = append(items, host.clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) UpdateHost(_ context.Context, host Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.hosts[host.ID]
	if !ok {
		return notFound("update host")
	}
	if err := s.checkHostEmail(host); err != nil {
		return err
	}
	host.CreatedAt = current.CreatedAt
	host.UpdatedAt = s.now().UTC()
	s.state.hosts[host.ID] = host.clone()
	return nil
}

func (s *MemoryStore) DeleteHost(_ context.Context, hostID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.hosts[hostID]; !ok {
		return notFound("delete host")
	}
	delete(s.state.hosts, hostID)
	return nil
}

// Cohosts

func (s *MemoryStore) CreateCohost(_ context.Context, cohost Cohost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.cohosts[cohost.ID]; exists {
		return calendar.Duplicate("Duplicate record.")
	}
	cohost.CreatedAt = s.now().UTC()
	s.state.cohosts[cohost.ID] = cohost
	return nil
}

func (s *MemoryStore) GetCohost(_ context.Context, cohostID string) (Cohost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.state.cohosts[cohostID]
	if !ok {
		return Cohost{}, notFound("get cohost")
	}
	return item, nil
}

func (s *MemoryStore) ListCohosts(_ context.Context, hostID string) ([]Cohost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Cohost, 0)
	for _, item := range s.state.cohosts {
		if item.HostID == hostID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *MemoryStore) UpdateCohost(_ context.Context, cohost Cohost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.cohosts[cohost.ID]
	if !ok {
		return notFound("update cohost")
	}
	cohost.CreatedAt = current.CreatedAt
	s.state.cohosts[cohost.ID] = cohost
	return nil
}

func (s *MemoryStore) DeleteCohosts(_ context.Context, cohostIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteKeys(s.state.cohosts, cohostIDs), nil
}

// Calendars

func (s *MemoryStore) CreateCalendar(_ context.Context, cal Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.calendars[cal.ID]; exists {
		return calendar.Duplicate("Duplicate record.")
	}
	if s.calendarOwnedBy(cal.HostID, cal.ID) {
		return calendar.Duplicate(constraintMessages["calendars_host_id_key"])
	}
	cal.CreatedAt = s.now().UTC()
	s.state.calendars[cal.ID] = cal
	return nil
}

func (s *MemoryStore) calendarOwnedBy(hostID, exceptID string) bool {
	for _, other := range s.state.calendars {
		if other.ID != exceptID && other.HostID == hostID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) GetCalendar(_ context.Context, calendarID string) (Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cal, ok := s.state.calendars[calendarID]
	if !ok {
		return Calendar{}, notFound("get calendar")
	}
	return cal, nil
}

func (s *MemoryStore) GetCalendarByHost(_ context.Context, hostID string) (Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cal := range s.state.calendars {
		if cal.HostID == hostID {
			return cal, nil
		}
	}
	return Calendar{}, notFound("get calendar by host")
}

func (s *MemoryStore) UpdateCalendar(_ context.Context, cal Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.calendars[cal.ID]
	if !ok {
		return notFound("update calendar")
	}
	if s.calendarOwnedBy(cal.HostID, cal.ID) {
		return calendar.Duplicate(constraintMessages["calendars_host_id_key"])
	}
	cal.CreatedAt = current.CreatedAt
	s.state.calendars[cal.ID] = cal
	return nil
}

func (s *MemoryStore) DeleteCalendar(_ context.Context, calendarID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.calendars[calendarID]; !ok {
		return notFound("delete calendar")
	}
	delete(s.state.calendars, calendarID)
	return nil
}

// Rooms

func (s *MemoryStore) CreateRoom(_ context.Context, room Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.rooms[room.ID]; exists {
		return calendar.Duplicate("Duplicate record.")
	}
	if err := s.checkRoom(room); err != nil {
		return err
	}
	now := s.now().UTC()
	room.CreatedAt, room.UpdatedAt = now, now
	s.state.rooms[room.ID] = room
	return nil
}

func (s *MemoryStore) checkRoom(room Room) error {
	if room.Price.IsNegative() {
		return calendar.Validation(constraintMessages["rooms_price_non_negative"])
	}
	for _, other := range s.state.rooms {
		if other.ID != room.ID && other.HostID == room.HostID && strings.EqualFold(other.Name, room.Name) {
			return calendar.Duplicate(constraintMessages["rooms_host_name_key"])
		}
	}
	return nil
}

func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.state.rooms[roomID]
	if !ok {
		return Room{}, notFound("get room")
	}
	return room, nil
}

func (s *MemoryStore) ListRooms(_ context.Context, hostID string) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Room, 0)
	for _, room := range s.state.rooms {
		if room.HostID == hostID {
			items = append(items, room)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

func (s *MemoryStore) UpdateRoom(_ context.Context, room Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.rooms[room.ID]
	if !ok {
		return notFound("update room")
	}
	if err := s.checkRoom(room); err != nil {
		return err
	}
	room.CreatedAt = current.CreatedAt
	room.UpdatedAt = s.now().UTC()
	s.state.rooms[room.ID] = room
	return nil
}

func (s *MemoryStore) DeleteRooms(_ context.Context, roomIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteKeys(s.state.rooms, roomIDs), nil
}

// Guests

func (s *MemoryStore) CreateGuest(_ context.Context, guest Guest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.guests[guest.ID]; exists {
		return calendar.Duplicate("Duplicate record.")
	}
	if err := s.checkGuestEmail(guest); err != nil {
		return err
	}
	now := s.now().UTC()
	guest.CreatedAt, guest.UpdatedAt = now, now
	s.state.guests[guest.ID] = guest.clone()
	return nil
}

func (s *MemoryStore) checkGuestEmail(guest Guest) error {
	if guest.Email == "" {
		return nil
	}
	for _, other := range s.state.guests {
		if other.ID != guest.ID && other.HostID == guest.HostID && strings.EqualFold(other.Email, guest.Email) {
			return calendar.Duplicate(constraintMessages["guests_host_email_key"])
		}
	}
	return nil
}

func (s *MemoryStore) GetGuest(_ context.Context, guestID string) (Guest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guest, ok := s.state.guests[guestID]
	if !ok {
		return Guest{}, notFound("get guest")
	}
	return guest.clone(), nil
}

func (s *MemoryStore) ListGuests(_ context.Context, hostID string) ([]Guest, error) {
	return s.filterGuests(hostID, func(Guest) bool { return true }, 0), nil
}

func (s *MemoryStore) SearchGuests(_ context.Context, hostID, text string, limit int) ([]Guest, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(text))
	return s.filterGuests(hostID, func(g Guest) bool {
		return strings.Contains(strings.ToLower(g.Name), needle) ||
			strings.Contains(strings.ToLower(g.Phone), needle) ||
			strings.Contains(strings.ToLower(g.Email), needle)
	}, limit), nil
}

func (s *MemoryStore) filterGuests(hostID string, match func(Guest) bool, limit int) []Guest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Guest, 0)
	for _, guest := range s.state.guests {
		if guest.HostID == hostID && match(guest) {
			items = append(items, guest.clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (s *MemoryStore) UpdateGuest(_ context.Context, guest Guest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.guests[guest.ID]
	if !ok {
		return notFound("update guest")
	}
	if err := s.checkGuestEmail(guest); err != nil {
		return err
	}
	guest.CreatedAt = current.CreatedAt
	guest.UpdatedAt = s.now().UTC()
	s.state.guests[guest.ID] = guest.clone()
	return nil
}

func (s *MemoryStore) DeleteGuests(_ context.Context, guestIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteKeys(s.state.guests, guestIDs), nil
}

func (s *MemoryStore) StripPriceOverrides(_ context.Context, roomIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for id, guest := range s.state.guests {
		changed := false
		for _, roomID := range roomIDs {
			if _, ok := guest.PriceOverrides[roomID]; ok {
				if !changed {
					guest = guest.clone()
					changed = true
				}
				delete(guest.PriceOverrides, roomID)
			}
		}
		if changed {
			guest.UpdatedAt = s.now().UTC()
			s.state.guests[id] = guest
			affected++
		}
	}
	return affected, nil
}

// Days

func (s *MemoryStore) GetDay(_ context.Context, calendarID string, date calendar.Date) (calendar.Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.dayIndex[dayKey{calendarID, date}]
	if !ok {
		return calendar.Day{}, notFound("get day")
	}
	return s.state.days[id].Clone(), nil
}

func (s *MemoryStore) ListDays(_ context.Context, calendarID string, from, to calendar.Date) ([]calendar.Day, error) {
	return s.filterDays(func(d calendar.Day) bool {
		return d.CalendarID == calendarID && !d.Date.Before(from) && !d.Date.After(to)
	}), nil
}

func (s *MemoryStore) ListDaysWithBooking(_ context.Context, bookingID string) ([]calendar.Day, error) {
	return s.filterDays(func(d calendar.Day) bool {
		return slices.ContainsFunc(d.Bookings, func(b calendar.Booking) bool { return b.ID == bookingID })
	}), nil
}

func (s *MemoryStore) ListDaysWithGuest(_ context.Context, calendarID, guestID string, from calendar.Date) ([]calendar.Day, error) {
	return s.filterDays(func(d calendar.Day) bool {
		if d.CalendarID != calendarID || d.Date.Before(from) {
			return false
		}
		return slices.ContainsFunc(d.Bookings, func(b calendar.Booking) bool { return b.GuestID == guestID })
	}), nil
}

func (s *MemoryStore) filterDays(match func(calendar.Day) bool) []calendar.Day {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]calendar.Day, 0)
	for _, day := range s.state.days {
		if match(day) {
			items = append(items, day.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if c := items[i].Date.Compare(items[j].Date); c != 0 {
			return c < 0
		}
		return items[i].CalendarID < items[j].CalendarID
	})
	return items
}

func (s *MemoryStore) SaveDay(_ context.Context, day calendar.Day) (calendar.Day, error) {
	if day.IsBlocked && len(day.Bookings) > 0 {
		return calendar.Day{}, calendar.Consistency(calendar.MsgBlockedAssigned)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := dayKey{day.CalendarID, day.Date}
	if day.Version == 0 {
		if _, exists := s.state.dayIndex[key]; exists {
			return calendar.Day{}, calendar.Duplicate(constraintMessages["days_calendar_date_key"])
		}
		if day.ID == "" {
			day.ID = util.NewID("day")
		}
		day.Version = 1
		day.CreatedAt, day.UpdatedAt = now, now
		s.state.days[day.ID] = day.Clone()
		s.state.dayIndex[key] = day.ID
		return day, nil
	}

	current, ok := s.state.days[day.ID]
	if !ok || current.Version != day.Version {
		return calendar.Day{}, calendar.Consistency(calendar.MsgConcurrentWrite)
	}
	day.CalendarID = current.CalendarID
	day.Date = current.Date
	day.CreatedAt = current.CreatedAt
	day.UpdatedAt = now
	day.Version++
	s.state.days[day.ID] = day.Clone()
	return day, nil
}

func (s *MemoryStore) DeleteDaysByCalendar(_ context.Context, calendarID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for id, day := range s.state.days {
		if day.CalendarID == calendarID {
			delete(s.state.days, id)
			delete(s.state.dayIndex, dayKey{day.CalendarID, day.Date})
			affected++
		}
	}
	return affected, nil
}

func (s *MemoryStore) StripRoomsFromDays(_ context.Context, roomIDs []string) (int64, error) {
	rooms := toSet(roomIDs)
	return s.rewriteDays(func(day *calendar.Day) bool {
		removed := len(day.Bookings) + len(day.BlockedRooms)
		day.Bookings = slices.DeleteFunc(day.Bookings, func(b calendar.Booking) bool {
			_, ok := rooms[b.RoomID]
			return ok
		})
		day.BlockedRooms = slices.DeleteFunc(day.BlockedRooms, func(r string) bool {
			_, ok := rooms[r]
			return ok
		})
		return removed != len(day.Bookings)+len(day.BlockedRooms)
	}), nil
}

func (s *MemoryStore) StripGuestsFromDays(_ context.Context, guestIDs []string) (int64, error) {
	guests := toSet(guestIDs)
	return s.rewriteDays(func(day *calendar.Day) bool {
		before := len(day.Bookings)
		day.Bookings = slices.DeleteFunc(day.Bookings, func(b calendar.Booking) bool {
			_, ok := guests[b.GuestID]
			return ok
		})
		return before != len(day.Bookings)
	}), nil
}

func (s *MemoryStore) rewriteDays(edit func(*calendar.Day) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for id, current := range s.state.days {
		day := current.Clone()
		if !edit(&day) {
			continue
		}
		if len(day.Bookings) == 0 {
			day.IsAirBnB = false
		}
		day.Version++
		day.UpdatedAt = s.now().UTC()
		s.state.days[id] = day
		affected++
	}
	return affected
}

func deleteKeys[V any](items map[string]V, ids []string) int64 {
	var affected int64
	for _, id := range ids {
		if _, ok := items[id]; ok {
			delete(items, id)
			affected++
		}
	}
	return affected
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
