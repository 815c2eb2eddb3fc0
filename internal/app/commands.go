package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"staycal/api/internal/calendar"
	"staycal/api/internal/reconcile"
)

type RegisterHostCommand struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type UpdateHostCommand struct {
	Name  *string `json:"name" validate:"omitempty,max=120"`
	Email *string `json:"email" validate:"omitempty,email"`
}

type ChangePasswordCommand struct {
	Current string `json:"currentPassword" validate:"required"`
	Next    string `json:"newPassword" validate:"required,min=8"`
}

type RoomCommand struct {
	Name  string          `json:"name" validate:"required,max=120"`
	Price decimal.Decimal `json:"price"`
}

type UpdateRoomCommand struct {
	HostID *string          `json:"hostId"`
	Name   *string          `json:"name" validate:"omitempty,max=120"`
	Price  *decimal.Decimal `json:"price"`
}

type GuestCommand struct {
	Name           string                     `json:"name" validate:"required,max=120"`
	Phone          string                     `json:"phone" validate:"max=40"`
	Email          string                     `json:"email" validate:"omitempty,email"`
	PriceOverrides map[string]decimal.Decimal `json:"priceOverrides"`
	Returning      bool                       `json:"returning"`
	Notes          string                     `json:"notes" validate:"max=2000"`
}

type UpdateGuestCommand struct {
	HostID         *string                    `json:"hostId"`
	Name           *string                    `json:"name" validate:"omitempty,max=120"`
	Phone          *string                    `json:"phone" validate:"omitempty,max=40"`
	Email          *string                    `json:"email" validate:"omitempty,email"`
	PriceOverrides map[string]decimal.Decimal `json:"priceOverrides"`
	Returning      *bool                      `json:"returning"`
	Notes          *string                    `json:"notes" validate:"omitempty,max=2000"`
}

type CohostCommand struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"omitempty,min=8"`
}

type UpdateCohostCommand struct {
	HostID *string `json:"hostId"`
	Name   *string `json:"name" validate:"omitempty,max=120"`
	Email  *string `json:"email" validate:"omitempty,email"`
}

type IDsCommand struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type SyncLinkCommand struct {
	RoomID string `json:"room" validate:"required"`
	// Link is removed when empty.
	Link string `json:"link" validate:"omitempty,max=2048"`
}

// DaysCommand selects days one of three ways: a single date, a list of
// dates, or an inclusive start/end range.
type DaysCommand struct {
	Date  *calendar.Date  `json:"date"`
	Dates []calendar.Date `json:"dates" validate:"omitempty,max=730"`
	Start *calendar.Date  `json:"start"`
	End   *calendar.Date  `json:"end"`
}

type RoomDaysCommand struct {
	RoomID string          `json:"room" validate:"required"`
	Dates  []calendar.Date `json:"dates" validate:"required,min=1,max=730"`
}

type BookCommand struct {
	GuestID        string           `json:"guest" validate:"required"`
	RoomID         string           `json:"room" validate:"required"`
	Date           calendar.Date    `json:"date"`
	Duration       int              `json:"duration" validate:"required,min=1,max=730"`
	NumberOfGuests int              `json:"numberOfGuests" validate:"min=0,max=50"`
	IsAirBnB       bool             `json:"isAirBnB"`
	Price          *decimal.Decimal `json:"price"`
	Alias          string           `json:"alias" validate:"max=120"`
	Notes          string           `json:"notes" validate:"max=2000"`
	Description    string           `json:"description" validate:"max=2000"`
}

type UnbookExternalCommand struct {
	// GuestID defaults to the host's external guest.
	GuestID string         `json:"guest"`
	RoomIDs []string       `json:"rooms" validate:"omitempty,dive,required"`
	From    *calendar.Date `json:"from"`
}

type SyncCommand struct {
	// Feeds defaults to the host's stored sync links.
	Feeds []reconcile.FeedLink `json:"feeds" validate:"omitempty,dive"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// checkCommand validates cmd and reports the first failing field as a
// validation error.
func (s *Service) checkCommand(cmd any) error {
	err := s.validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return calendar.Validation("Invalid request.")
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return calendar.Validation(fmt.Sprintf("%s is required.", fe.Field()))
	case "email":
		return calendar.Validation("Invalid email address.")
	case "min":
		return calendar.Validation(fmt.Sprintf("%s must be at least %s.", fe.Field(), fe.Param()))
	case "max":
		return calendar.Validation(fmt.Sprintf("%s must be at most %s.", fe.Field(), fe.Param()))
	default:
		return calendar.Validation(fmt.Sprintf("Invalid %s.", fe.Field()))
	}
}
