package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"staycal/api/internal/calendar"
)

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

const (
	sqlStateUniqueViolation = "23505"
	sqlStateCheckViolation  = "23514"
)

var constraintMessages = map[string]string{
	"hosts_email_key":               "A host with this email already exists.",
	"calendars_host_id_key":         "Host already has a calendar.",
	"rooms_host_name_key":           "A room with this name already exists.",
	"guests_host_email_key":         "A guest with this email already exists.",
	"days_calendar_date_key":        "A day already exists for this date.",
	"rooms_price_non_negative":      "Price cannot be negative.",
	"days_blocked_without_bookings": calendar.MsgBlockedAssigned,
}

// mapWriteError turns constraint violations into calendar errors and wraps
// everything else with the operation name.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		message := constraintMessages[pgErr.ConstraintName]
		switch pgErr.Code {
		case sqlStateUniqueViolation:
			if message == "" {
				message = "Duplicate record."
			}
			return &calendar.Error{Kind: calendar.KindDuplicate, Message: message, Err: err}
		case sqlStateCheckViolation:
			if pgErr.ConstraintName == "days_blocked_without_bookings" {
				return &calendar.Error{Kind: calendar.KindConsistency, Message: message, Err: err}
			}
			if message == "" {
				message = "Invalid record."
			}
			return &calendar.Error{Kind: calendar.KindValidation, Message: message, Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
