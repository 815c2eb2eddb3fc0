package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"staycal/api/internal/calendar"
)

func openTestPostgres(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	fsys, err := Migrations("")
	if err != nil {
		t.Fatalf("open migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, fsys); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, fsys); err != nil {
		t.Fatalf("apply migrations twice: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestPostgresDayLifecycle(t *testing.T) {
	s, ctx := openTestPostgres(t)
	date := calendar.MustParseDate("2031-03-10")

	day, err := s.SaveDay(ctx, calendar.Day{CalendarID: "cal_1", Date: date, IsBlocked: true})
	if err != nil {
		t.Fatalf("insert day: %v", err)
	}
	if _, err := s.SaveDay(ctx, calendar.Day{CalendarID: "cal_1", Date: date}); !errors.Is(err, calendar.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	day.IsBlocked = false
	day.Bookings = []calendar.Booking{{ID: "bk_1", GuestID: "g1", RoomID: "r1", Price: decimal.NewFromInt(70), Duration: 1}}
	saved, err := s.SaveDay(ctx, day)
	if err != nil {
		t.Fatalf("book day: %v", err)
	}
	if _, err := s.SaveDay(ctx, day); !errors.Is(err, calendar.ErrConsistency) {
		t.Fatalf("expected stale version rejection, got %v", err)
	}

	saved.IsBlocked = true
	if _, err := s.SaveDay(ctx, saved); !errors.Is(err, calendar.ErrConsistency) {
		t.Fatalf("expected check constraint as consistency error, got %v", err)
	}

	found, err := s.ListDaysWithBooking(ctx, "bk_1")
	if err != nil || len(found) != 1 {
		t.Fatalf("list with booking: %v %+v", err, found)
	}
	if found[0].Date != date || !found[0].Bookings[0].Price.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("unexpected stored day %+v", found[0])
	}

	if _, err := s.StripRoomsFromDays(ctx, []string{"r1"}); err != nil {
		t.Fatalf("strip rooms: %v", err)
	}
	stripped, err := s.GetDay(ctx, "cal_1", date)
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	if len(stripped.Bookings) != 0 || stripped.State() != calendar.StateOpen {
		t.Fatalf("expected open day after strip, got %+v", stripped)
	}
}

func TestPostgresHostRoundTripAndTx(t *testing.T) {
	s, ctx := openTestPostgres(t)
	host := Host{
		ID:      "h1",
		Name:    "Ana",
		Email:   "ana@example.com",
		RoomIDs: []string{"r1"},
		SyncMap: map[string]string{"r1": "https://example.com/r1.ics"},
	}
	if err := s.CreateHost(ctx, host); err != nil {
		t.Fatalf("create host: %v", err)
	}
	if err := s.CreateHost(ctx, Host{ID: "h2", Name: "Other", Email: "ANA@example.com"}); !errors.Is(err, calendar.ErrDuplicate) {
		t.Fatalf("expected duplicate email, got %v", err)
	}

	got, err := s.GetHost(ctx, "h1")
	if err != nil {
		t.Fatalf("get host: %v", err)
	}
	if got.SyncMap["r1"] != host.SyncMap["r1"] || len(got.RoomIDs) != 1 {
		t.Fatalf("unexpected host %+v", got)
	}

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx Store) error {
		if err := tx.DeleteHost(ctx, "h1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetHost(ctx, "h1"); err != nil {
		t.Fatalf("expected host to survive rollback: %v", err)
	}
	if _, err := s.GetHost(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no rows, got %v", err)
	}
}
