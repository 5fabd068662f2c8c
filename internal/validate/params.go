// Package validate provides input validation for job request parameters.
package validate

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// Validation errors.
var (
	ErrInvalidUUID  = errors.New("invalid UUID")
	ErrInvalidMonth = errors.New("invalid month")
	ErrInvalidDay   = errors.New("invalid day of month")
)

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ShowUUID validates a show identifier and returns its canonical
// (lowercase, hyphenated) form.
func ShowUUID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", ErrInvalidUUID
	}
	return id.String(), nil
}

// Month validates a YYYY-MM calendar month.
func Month(s string) error {
	if !monthPattern.MatchString(s) {
		return ErrInvalidMonth
	}
	return nil
}

// DayOfMonth parses a 1..31 day number.
func DayOfMonth(s string) (int, error) {
	day, err := strconv.Atoi(s)
	if err != nil || day < 1 || day > 31 {
		return 0, ErrInvalidDay
	}
	return day, nil
}
