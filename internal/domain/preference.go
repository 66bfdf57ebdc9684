package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DeliveryPreference is owned by an external settings surface and is
// read-only to the briefing pipeline.
type DeliveryPreference struct {
	UserID      string  `validate:"required"`
	DisplayName string  `validate:"omitempty,max=80"`
	Channel     Channel `validate:"required,oneof=slack telegram sms inapp"`

	// Address is the channel-specific destination: a Slack channel or user ID,
	// a Telegram chat ID, an E.164 phone number. In-app delivery falls back to
	// the user ID.
	Address string `validate:"required_unless=Channel inapp"`

	DeliveryTime string `validate:"required,clock"` // HH:MM in Timezone
	Timezone     string `validate:"required,timezone"`
	Enabled      bool
	Style        Style `validate:"omitempty,oneof=concise detailed friendly"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, _, err := ParseClock(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the preference. A missing channel or address is reported as
// ErrNoChannelConfigured so callers can record it distinctly.
func (p DeliveryPreference) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Field() == "Channel" || fe.Field() == "Address" {
			if fe.Tag() == "required" || fe.Tag() == "required_unless" {
				return fmt.Errorf("%w: %s missing", ErrNoChannelConfigured, strings.ToLower(fe.Field()))
			}
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid preference for user %s: %s", p.UserID, strings.Join(msgs, ", "))
}

// Location resolves the user's IANA timezone.
func (p DeliveryPreference) Location() (*time.Location, error) {
	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load tz %s: %w", tz, err)
	}
	return loc, nil
}

// DeliveryAddress returns the address to hand to the channel sender.
func (p DeliveryPreference) DeliveryAddress() string {
	if p.Address == "" && p.Channel == ChannelInApp {
		return p.UserID
	}
	return p.Address
}

// EffectiveStyle defaults an unset style to concise.
func (p DeliveryPreference) EffectiveStyle() Style {
	if p.Style == "" {
		return StyleConcise
	}
	return p.Style
}

// ParseClock parses a 24h "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid clock %q: hour out of range", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock %q: minute out of range", s)
	}
	return hour, minute, nil
}

// CalendarDay formats t as the user's calendar day (YYYY-MM-DD).
func CalendarDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// DayLayout is the canonical calendar-day format used by the ledger.
const DayLayout = "2006-01-02"
