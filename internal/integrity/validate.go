package integrity

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
	"github.com/shopspring/decimal"

	"staycal/api/internal/calendar"
)

const maxNameLength = 120

var validate = validator.New()

func cleanName(value, field string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", calendar.Validation(fmt.Sprintf("%s is required.", field))
	}
	if len(value) > maxNameLength {
		return "", calendar.Validation(fmt.Sprintf("%s is too long.", field))
	}
	return value, nil
}

// cleanEmail lower-cases and checks an address. Empty is accepted unless
// required.
func cleanEmail(value string, required bool) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		if required {
			return "", calendar.Validation("Email is required.")
		}
		return "", nil
	}
	if err := validate.Var(value, "email"); err != nil {
		return "", calendar.Validation("Invalid email address.")
	}
	return value, nil
}

// cleanPhone stores numbers in national format for region. Numbers written
// with a leading + keep their own country.
func cleanPhone(value, region string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(value, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", calendar.Validation("Invalid phone number.")
	}
	if phonenumbers.GetRegionCodeForNumber(num) != region {
		return phonenumbers.Format(num, phonenumbers.INTERNATIONAL), nil
	}
	return phonenumbers.Format(num, phonenumbers.NATIONAL), nil
}

func checkPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return calendar.Validation("Price cannot be negative.")
	}
	return nil
}

// cleanFeedLink accepts absolute http, https or webcal links. webcal is
// rewritten to https since feeds are fetched over HTTP.
func cleanFeedLink(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" {
		return "", calendar.Validation("Invalid calendar link.")
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	case "webcal":
		parsed.Scheme = "https"
	default:
		return "", calendar.Validation("Invalid calendar link.")
	}
	return parsed.String(), nil
}
