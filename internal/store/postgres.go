package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"staycal/api/internal/calendar"
	"staycal/api/internal/util"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn against a store bound to a single transaction. Nested calls
// reuse the outer transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Hosts

const hostColumns = `id, name, email, password_hash, calendar_id, room_ids, guest_ids, cohost_ids, sync_map, external_guest_id, created_at, updated_at`

func scanHost(row rowScanner) (Host, error) {
	var host Host
	var roomsRaw, guestsRaw, cohostsRaw, syncRaw []byte
	if err := row.Scan(
		&host.ID,
		&host.Name,
		&host.Email,
		&host.PasswordHash,
		&host.CalendarID,
		&roomsRaw,
		&guestsRaw,
		&cohostsRaw,
		&syncRaw,
		&host.ExternalGuestID,
		&host.CreatedAt,
		&host.UpdatedAt,
	); err != nil {
		return Host{}, err
	}
	for _, col := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"room ids", roomsRaw, &host.RoomIDs},
		{"guest ids", guestsRaw, &host.GuestIDs},
		{"cohost ids", cohostsRaw, &host.CohostIDs},
		{"sync map", syncRaw, &host.SyncMap},
	} {
		if err := decodeColumn(col.raw, col.dst, col.name, host.ID); err != nil {
			return Host{}, err
		}
	}
	return host, nil
}

func (s *PostgresStore) CreateHost(ctx context.Context, host Host) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO hosts (id, name, email, password_hash, calendar_id, room_ids, guest_ids, cohost_ids, sync_map, external_guest_id)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10)
	`, host.ID, host.Name, host.Email, host.PasswordHash, host.CalendarID,
		jsonList(host.RoomIDs), jsonList(host.GuestIDs), jsonList(host.CohostIDs), jsonObject(host.SyncMap), host.ExternalGuestID)
	if err != nil {
		return mapWriteError("insert host", err)
	}
	return nil
}

func (s *PostgresStore) GetHost(ctx context.Context, hostID string) (Host, error) {
	host, err := scanHost(s.q.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id=$1`, hostID))
	if err != nil {
		return Host{}, fmt.Errorf("get host: %w", err)
	}
	return host, nil
}

func (s *PostgresStore) ListHosts(ctx context.Context) ([]Host, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	items := make([]Host, 0)
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		items = append(items, host)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hosts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateHost(ctx context.Context, host Host) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE hosts
		SET name=$2, email=$3, password_hash=$4, calendar_id=$5, room_ids=$6::jsonb, guest_ids=$7::jsonb,
			cohost_ids=$8::jsonb, sync_map=$9::jsonb, external_guest_id=$10, updated_at=NOW()
		WHERE id=$1
	`, host.ID, host.Name, host.Email, host.PasswordHash, host.CalendarID,
		jsonList(host.RoomIDs), jsonList(host.GuestIDs), jsonList(host.CohostIDs), jsonObject(host.SyncMap), host.ExternalGuestID)
	if err != nil {
		return mapWriteError("update host", err)
	}
	return requireRow("update host", result)
}

func (s *PostgresStore) DeleteHost(ctx context.Context, hostID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM hosts WHERE id=$1`, hostID)
	if err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	return requireRow("delete host", result)
}

// Cohosts

const cohostColumns = `id, host_id, name, email, password_hash, created_at`

func scanCohost(row rowScanner) (Cohost, error) {
	var item Cohost
	err := row.Scan(&item.ID, &item.HostID, &item.Name, &item.Email, &item.PasswordHash, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) CreateCohost(ctx context.Context, cohost Cohost) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO cohosts (id, host_id, name, email, password_hash)
		VALUES ($1, $2, $3, $4, $5)
	`, cohost.ID, cohost.HostID, cohost.Name, cohost.Email, cohost.PasswordHash)
	if err != nil {
		return mapWriteError("insert cohost", err)
	}
	return nil
}

func (s *PostgresStore) GetCohost(ctx context.Context, cohostID string) (Cohost, error) {
	item, err := scanCohost(s.q.QueryRowContext(ctx, `SELECT `+cohostColumns+` FROM cohosts WHERE id=$1`, cohostID))
	if err != nil {
		return Cohost{}, fmt.Errorf("get cohost: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListCohosts(ctx context.Context, hostID string) ([]Cohost, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+cohostColumns+` FROM cohosts WHERE host_id=$1 ORDER BY name`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list cohosts: %w", err)
	}
	defer rows.Close()

	items := make([]Cohost, 0)
	for rows.Next() {
		item, err := scanCohost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cohost: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cohosts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateCohost(ctx context.Context, cohost Cohost) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE cohosts SET host_id=$2, name=$3, email=$4, password_hash=$5 WHERE id=$1
	`, cohost.ID, cohost.HostID, cohost.Name, cohost.Email, cohost.PasswordHash)
	if err != nil {
		return mapWriteError("update cohost", err)
	}
	return requireRow("update cohost", result)
}

func (s *PostgresStore) DeleteCohosts(ctx context.Context, cohostIDs []string) (int64, error) {
	return s.deleteByIDs(ctx, "cohosts", cohostIDs)
}

// Calendars

func (s *PostgresStore) CreateCalendar(ctx context.Context, cal Calendar) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO calendars (id, host_id) VALUES ($1, $2)`, cal.ID, cal.HostID)
	if err != nil {
		return mapWriteError("insert calendar", err)
	}
	return nil
}

func (s *PostgresStore) GetCalendar(ctx context.Context, calendarID string) (Calendar, error) {
	var cal Calendar
	err := s.q.QueryRowContext(ctx, `SELECT id, host_id, created_at FROM calendars WHERE id=$1`, calendarID).
		Scan(&cal.ID, &cal.HostID, &cal.CreatedAt)
	if err != nil {
		return Calendar{}, fmt.Errorf("get calendar: %w", err)
	}
	return cal, nil
}

func (s *PostgresStore) GetCalendarByHost(ctx context.Context, hostID string) (Calendar, error) {
	var cal Calendar
	err := s.q.QueryRowContext(ctx, `SELECT id, host_id, created_at FROM calendars WHERE host_id=$1`, hostID).
		Scan(&cal.ID, &cal.HostID, &cal.CreatedAt)
	if err != nil {
		return Calendar{}, fmt.Errorf("get calendar by host: %w", err)
	}
	return cal, nil
}

func (s *PostgresStore) UpdateCalendar(ctx context.Context, cal Calendar) error {
	result, err := s.q.ExecContext(ctx, `UPDATE calendars SET host_id=$2 WHERE id=$1`, cal.ID, cal.HostID)
	if err != nil {
		return mapWriteError("update calendar", err)
	}
	return requireRow("update calendar", result)
}

func (s *PostgresStore) DeleteCalendar(ctx context.Context, calendarID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM calendars WHERE id=$1`, calendarID)
	if err != nil {
		return fmt.Errorf("delete calendar: %w", err)
	}
	return requireRow("delete calendar", result)
}

// Rooms

const roomColumns = `id, host_id, name, price, created_at, updated_at`

func scanRoom(row rowScanner) (Room, error) {
	var item Room
	err := row.Scan(&item.ID, &item.HostID, &item.Name, &item.Price, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) CreateRoom(ctx context.Context, room Room) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO rooms (id, host_id, name, price) VALUES ($1, $2, $3, $4)
	`, room.ID, room.HostID, room.Name, room.Price)
	if err != nil {
		return mapWriteError("insert room", err)
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	item, err := scanRoom(s.q.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID))
	if err != nil {
		return Room{}, fmt.Errorf("get room: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context, hostID string) ([]Room, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE host_id=$1 ORDER BY LOWER(name)`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	items := make([]Room, 0)
	for rows.Next() {
		item, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateRoom(ctx context.Context, room Room) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE rooms SET host_id=$2, name=$3, price=$4, updated_at=NOW() WHERE id=$1
	`, room.ID, room.HostID, room.Name, room.Price)
	if err != nil {
		return mapWriteError("update room", err)
	}
	return requireRow("update room", result)
}

func (s *PostgresStore) DeleteRooms(ctx context.Context, roomIDs []string) (int64, error) {
	return s.deleteByIDs(ctx, "rooms", roomIDs)
}

// Guests

const guestColumns = `id, host_id, name, phone, email, price_overrides, is_returning, notes, created_at, updated_at`

func scanGuest(row rowScanner) (Guest, error) {
	var item Guest
	var overridesRaw []byte
	if err := row.Scan(
		&item.ID,
		&item.HostID,
		&item.Name,
		&item.Phone,
		&item.Email,
		&overridesRaw,
		&item.Returning,
		&item.Notes,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Guest{}, err
	}
	overrides := map[string]decimal.Decimal{}
	if err := decodeColumn(overridesRaw, &overrides, "price overrides", item.ID); err != nil {
		return Guest{}, err
	}
	if len(overrides) > 0 {
		item.PriceOverrides = overrides
	}
	return item, nil
}

func (s *PostgresStore) CreateGuest(ctx context.Context, guest Guest) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO guests (id, host_id, name, phone, email, price_overrides, is_returning, notes)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
	`, guest.ID, guest.HostID, guest.Name, guest.Phone, guest.Email, jsonObject(guest.PriceOverrides), guest.Returning, guest.Notes)
	if err != nil {
		return mapWriteError("insert guest", err)
	}
	return nil
}

func (s *PostgresStore) GetGuest(ctx context.Context, guestID string) (Guest, error) {
	item, err := scanGuest(s.q.QueryRowContext(ctx, `SELECT `+guestColumns+` FROM guests WHERE id=$1`, guestID))
	if err != nil {
		return Guest{}, fmt.Errorf("get guest: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListGuests(ctx context.Context, hostID string) ([]Guest, error) {
	return s.queryGuests(ctx, "list guests", `SELECT `+guestColumns+` FROM guests WHERE host_id=$1 ORDER BY LOWER(name)`, hostID)
}

// SearchGuests is the database fallback for the guest directory: a
// case-insensitive substring match on name, phone and email.
func (s *PostgresStore) SearchGuests(ctx context.Context, hostID, text string, limit int) ([]Guest, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(text)) + "%"
	return s.queryGuests(ctx, "search guests", `
		SELECT `+guestColumns+`
		FROM guests
		WHERE host_id=$1 AND (name ILIKE $2 OR phone ILIKE $2 OR email ILIKE $2)
		ORDER BY LOWER(name)
		LIMIT $3
	`, hostID, pattern, limit)
}

func (s *PostgresStore) queryGuests(ctx context.Context, op, query string, args ...any) ([]Guest, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]Guest, 0)
	for rows.Next() {
		item, err := scanGuest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan guest: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateGuest(ctx context.Context, guest Guest) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE guests
		SET host_id=$2, name=$3, phone=$4, email=$5, price_overrides=$6::jsonb, is_returning=$7, notes=$8, updated_at=NOW()
		WHERE id=$1
	`, guest.ID, guest.HostID, guest.Name, guest.Phone, guest.Email, jsonObject(guest.PriceOverrides), guest.Returning, guest.Notes)
	if err != nil {
		return mapWriteError("update guest", err)
	}
	return requireRow("update guest", result)
}

func (s *PostgresStore) DeleteGuests(ctx context.Context, guestIDs []string) (int64, error) {
	return s.deleteByIDs(ctx, "guests", guestIDs)
}

func (s *PostgresStore) StripPriceOverrides(ctx context.Context, roomIDs []string) (int64, error) {
	if len(roomIDs) == 0 {
		return 0, nil
	}
	result, err := s.q.ExecContext(ctx, `
		UPDATE guests
		SET price_overrides = price_overrides - $1::text[], updated_at=NOW()
		WHERE price_overrides ?| $1::text[]
	`, roomIDs)
	if err != nil {
		return 0, fmt.Errorf("strip price overrides: %w", err)
	}
	return result.RowsAffected()
}

// Days

const dayColumns = `id, calendar_id, date, is_blocked, is_airbnb, bookings, blocked_rooms, version, created_at, updated_at`

func scanDay(row rowScanner) (calendar.Day, error) {
	var day calendar.Day
	var bookingsRaw, blockedRaw []byte
	if err := row.Scan(
		&day.ID,
		&day.CalendarID,
		&day.Date,
		&day.IsBlocked,
		&day.IsAirBnB,
		&bookingsRaw,
		&blockedRaw,
		&day.Version,
		&day.CreatedAt,
		&day.UpdatedAt,
	); err != nil {
		return calendar.Day{}, err
	}
	if err := decodeColumn(bookingsRaw, &day.Bookings, "bookings", day.ID); err != nil {
		return calendar.Day{}, err
	}
	if err := decodeColumn(blockedRaw, &day.BlockedRooms, "blocked rooms", day.ID); err != nil {
		return calendar.Day{}, err
	}
	return day, nil
}

// decodeColumn unmarshals a JSONB column of the row with the given id.
func decodeColumn(raw []byte, dst any, column, id string) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s of %s: %w", column, id, err)
	}
	return nil
}

func (s *PostgresStore) GetDay(ctx context.Context, calendarID string, date calendar.Date) (calendar.Day, error) {
	day, err := scanDay(s.q.QueryRowContext(ctx, `
		SELECT `+dayColumns+` FROM days WHERE calendar_id=$1 AND date=$2
	`, calendarID, date))
	if err != nil {
		return calendar.Day{}, fmt.Errorf("get day: %w", err)
	}
	return day, nil
}

func (s *PostgresStore) ListDays(ctx context.Context, calendarID string, from, to calendar.Date) ([]calendar.Day, error) {
	return s.queryDays(ctx, "list days", `
		SELECT `+dayColumns+` FROM days
		WHERE calendar_id=$1 AND date BETWEEN $2 AND $3
		ORDER BY date
	`, calendarID, from, to)
}

func (s *PostgresStore) ListDaysWithBooking(ctx context.Context, bookingID string) ([]calendar.Day, error) {
	filter, err := json.Marshal([]map[string]string{{"id": bookingID}})
	if err != nil {
		return nil, fmt.Errorf("encode booking filter: %w", err)
	}
	return s.queryDays(ctx, "list days with booking", `
		SELECT `+dayColumns+` FROM days
		WHERE bookings @> $1::jsonb
		ORDER BY date
	`, string(filter))
}

func (s *PostgresStore) ListDaysWithGuest(ctx context.Context, calendarID, guestID string, from calendar.Date) ([]calendar.Day, error) {
	filter, err := json.Marshal([]map[string]string{{"guestId": guestID}})
	if err != nil {
		return nil, fmt.Errorf("encode guest filter: %w", err)
	}
	return s.queryDays(ctx, "list days with guest", `
		SELECT `+dayColumns+` FROM days
		WHERE calendar_id=$1 AND date >= $2 AND bookings @> $3::jsonb
		ORDER BY date
	`, calendarID, from, string(filter))
}

func (s *PostgresStore) queryDays(ctx context.Context, op, query string, args ...any) ([]calendar.Day, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]calendar.Day, 0)
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		items = append(items, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate days: %w", err)
	}
	return items, nil
}

// SaveDay inserts a day whose Version is zero and otherwise updates it only
// if the stored version still matches. Losing an insert race surfaces as a
// duplicate; losing an update race as a consistency error.
func (s *PostgresStore) SaveDay(ctx context.Context, day calendar.Day) (calendar.Day, error) {
	bookings := day.Bookings
	if bookings == nil {
		bookings = []calendar.Booking{}
	}
	encodedBookings, err := json.Marshal(bookings)
	if err != nil {
		return calendar.Day{}, fmt.Errorf("marshal bookings: %w", err)
	}

	if day.Version == 0 {
		if day.ID == "" {
			day.ID = util.NewID("day")
		}
		err = s.q.QueryRowContext(ctx, `
			INSERT INTO days (id, calendar_id, date, is_blocked, is_airbnb, bookings, blocked_rooms)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb)
			ON CONFLICT (calendar_id, date) DO NOTHING
			RETURNING version, created_at, updated_at
		`, day.ID, day.CalendarID, day.Date, day.IsBlocked, day.IsAirBnB, string(encodedBookings), jsonList(day.BlockedRooms)).
			Scan(&day.Version, &day.CreatedAt, &day.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return calendar.Day{}, calendar.Duplicate(constraintMessages["days_calendar_date_key"])
		}
		if err != nil {
			return calendar.Day{}, mapWriteError("insert day", err)
		}
		return day, nil
	}

	err = s.q.QueryRowContext(ctx, `
		UPDATE days
		SET is_blocked=$3, is_airbnb=$4, bookings=$5::jsonb, blocked_rooms=$6::jsonb, version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$2
		RETURNING version, updated_at
	`, day.ID, day.Version, day.IsBlocked, day.IsAirBnB, string(encodedBookings), jsonList(day.BlockedRooms)).
		Scan(&day.Version, &day.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return calendar.Day{}, calendar.Consistency(calendar.MsgConcurrentWrite)
	}
	if err != nil {
		return calendar.Day{}, mapWriteError("update day", err)
	}
	return day, nil
}

func (s *PostgresStore) DeleteDaysByCalendar(ctx context.Context, calendarID string) (int64, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM days WHERE calendar_id=$1`, calendarID)
	if err != nil {
		return 0, fmt.Errorf("delete days: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) StripRoomsFromDays(ctx context.Context, roomIDs []string) (int64, error) {
	if len(roomIDs) == 0 {
		return 0, nil
	}
	result, err := s.q.ExecContext(ctx, `
		UPDATE days SET
			bookings = COALESCE((
				SELECT jsonb_agg(elem.value) FROM jsonb_array_elements(days.bookings) AS elem
				WHERE NOT (elem.value->>'roomId' = ANY($1::text[]))
			), '[]'::jsonb),
			blocked_rooms = COALESCE((
				SELECT jsonb_agg(elem.value) FROM jsonb_array_elements_text(days.blocked_rooms) AS elem
				WHERE NOT (elem.value = ANY($1::text[]))
			), '[]'::jsonb),
			version = version + 1,
			updated_at = NOW()
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(days.bookings) AS elem WHERE elem.value->>'roomId' = ANY($1::text[])
		) OR days.blocked_rooms ?| $1::text[]
	`, roomIDs)
	if err != nil {
		return 0, fmt.Errorf("strip rooms from days: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, s.clearEmptyExternalFlags(ctx)
}

func (s *PostgresStore) StripGuestsFromDays(ctx context.Context, guestIDs []string) (int64, error) {
	if len(guestIDs) == 0 {
		return 0, nil
	}
	result, err := s.q.ExecContext(ctx, `
		UPDATE days SET
			bookings = COALESCE((
				SELECT jsonb_agg(elem.value) FROM jsonb_array_elements(days.bookings) AS elem
				WHERE NOT (elem.value->>'guestId' = ANY($1::text[]))
			), '[]'::jsonb),
			version = version + 1,
			updated_at = NOW()
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(days.bookings) AS elem WHERE elem.value->>'guestId' = ANY($1::text[])
		)
	`, guestIDs)
	if err != nil {
		return 0, fmt.Errorf("strip guests from days: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, s.clearEmptyExternalFlags(ctx)
}

func (s *PostgresStore) clearEmptyExternalFlags(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE days SET is_airbnb=FALSE, updated_at=NOW()
		WHERE is_airbnb AND jsonb_array_length(bookings) = 0
	`)
	if err != nil {
		return fmt.Errorf("clear external flags: %w", err)
	}
	return nil
}

func (s *PostgresStore) deleteByIDs(ctx context.Context, table string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return result.RowsAffected()
}

func requireRow(op string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}

func jsonList(values []string) string {
	if values == nil {
		values = []string{}
	}
	encoded, _ := json.Marshal(values)
	return string(encoded)
}

func jsonObject[V any](values map[string]V) string {
	if values == nil {
		return "{}"
	}
	encoded, _ := json.Marshal(values)
	return string(encoded)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
