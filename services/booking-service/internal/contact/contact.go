// Package contact validates and normalizes the customer details collected by
// the intake channels.
package contact

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/nyaruka/phonenumbers"
)

const (
	maxNameLen  = 120
	maxNotesLen = 500
)

var ErrNameRequired = errors.New("customer name is required")

// NormalizePhone parses raw in defaultRegion (ISO 3166 alpha-2, used only when
// raw has no country prefix) and returns it in E.164.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("phone number is required")
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Customer trims and validates c. A phone number is required unless an email
// is given; whatever is present must be valid.
func Customer(c model.Customer, defaultRegion string) (model.Customer, error) {
	out := model.Customer{
		Name:  strings.Join(strings.Fields(c.Name), " "),
		Notes: strings.TrimSpace(c.Notes),
	}
	if out.Name == "" {
		return model.Customer{}, ErrNameRequired
	}
	if utf8.RuneCountInString(out.Name) > maxNameLen {
		return model.Customer{}, fmt.Errorf("customer name longer than %d characters", maxNameLen)
	}
	if utf8.RuneCountInString(out.Notes) > maxNotesLen {
		return model.Customer{}, fmt.Errorf("notes longer than %d characters", maxNotesLen)
	}

	if email := strings.TrimSpace(c.Email); email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Name != "" {
			return model.Customer{}, fmt.Errorf("invalid email %q", email)
		}
		out.Email = strings.ToLower(addr.Address)
	}
	if strings.TrimSpace(c.Phone) != "" || out.Email == "" {
		phone, err := NormalizePhone(c.Phone, defaultRegion)
		if err != nil {
			return model.Customer{}, err
		}
		out.Phone = phone
	}
	return out, nil
}
