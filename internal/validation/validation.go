package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/kjstillabower/flycompare/internal/models"
)

// DefaultMaxFieldLength is the rune limit applied to each search field.
const DefaultMaxFieldLength = 100

var (
	// ErrFieldRequired is returned when a search field is missing or whitespace-only.
	ErrFieldRequired = errors.New("field is required")
	// ErrFieldTooLong is returned when a search field exceeds the maximum length.
	ErrFieldTooLong = errors.New("field too long")
	// ErrCityInvalidChars is returned when a city name contains disallowed characters.
	ErrCityInvalidChars = errors.New("city contains invalid characters")
)

// FieldError names the offending field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValidateQuery trims every field of q and checks that each is present and at most
// maxLen runes (DefaultMaxFieldLength if <= 0). Returns the trimmed query.
// All missing fields are reported before any length problem.
func ValidateQuery(q models.SearchQuery, maxLen int) (models.SearchQuery, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxFieldLength
	}
	out := models.SearchQuery{
		Origin:      strings.TrimSpace(q.Origin),
		Destination: strings.TrimSpace(q.Destination),
		Date:        strings.TrimSpace(q.Date),
	}
	fields := []struct {
		name  string
		value string
	}{
		{"origin", out.Origin},
		{"destination", out.Destination},
		{"date", out.Date},
	}

	var errs []error
	for _, f := range fields {
		if f.value == "" {
			errs = append(errs, &FieldError{Field: f.name, Err: ErrFieldRequired})
		}
	}
	if len(errs) > 0 {
		return models.SearchQuery{}, errors.Join(errs...)
	}
	for _, f := range fields {
		if len([]rune(f.value)) > maxLen {
			errs = append(errs, &FieldError{Field: f.name, Err: ErrFieldTooLong})
		}
	}
	if len(errs) > 0 {
		return models.SearchQuery{}, errors.Join(errs...)
	}
	return out, nil
}

// ValidateCity trims a city name for airport lookup, enforces maxLen in runes and
// restricts to letters (Unicode), spaces and the punctuation found in place names.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", &FieldError{Field: "city", Err: ErrFieldRequired}
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", &FieldError{Field: "city", Err: ErrFieldTooLong}
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", &FieldError{Field: "city", Err: ErrCityInvalidChars}
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
