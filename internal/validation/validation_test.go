package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/kjstillabower/flycompare/internal/models"
)

func TestValidateQuery_Valid(t *testing.T) {
	got, err := ValidateQuery(models.SearchQuery{Origin: " BLR ", Destination: "ATQ\t", Date: "2026-11-02"}, 100)
	if err != nil {
		t.Fatalf("ValidateQuery() error = %v", err)
	}
	want := models.SearchQuery{Origin: "BLR", Destination: "ATQ", Date: "2026-11-02"}
	if got != want {
		t.Errorf("ValidateQuery() = %+v, want %+v", got, want)
	}
}

func TestValidateQuery_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		q     models.SearchQuery
		field string
	}{
		{"no origin", models.SearchQuery{Destination: "ATQ", Date: "2026-11-02"}, "origin"},
		{"blank destination", models.SearchQuery{Origin: "BLR", Destination: "   ", Date: "2026-11-02"}, "destination"},
		{"no date", models.SearchQuery{Origin: "BLR", Destination: "ATQ"}, "date"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateQuery(tc.q, 100)
			if !errors.Is(err, ErrFieldRequired) {
				t.Fatalf("error = %v, want ErrFieldRequired", err)
			}
			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != tc.field {
				t.Errorf("FieldError = %+v, want field %q", fe, tc.field)
			}
		})
	}
}

func TestValidateQuery_AllMissing(t *testing.T) {
	_, err := ValidateQuery(models.SearchQuery{}, 0)
	if !errors.Is(err, ErrFieldRequired) {
		t.Fatalf("error = %v, want ErrFieldRequired", err)
	}
	for _, f := range []string{"origin", "destination", "date"} {
		if !strings.Contains(err.Error(), f) {
			t.Errorf("error %q does not mention %s", err, f)
		}
	}
}

func TestValidateQuery_TooLong(t *testing.T) {
	long := strings.Repeat("a", 101)
	_, err := ValidateQuery(models.SearchQuery{Origin: long, Destination: "ATQ", Date: "2026-11-02"}, 0)
	if !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("error = %v, want ErrFieldTooLong", err)
	}

	// Length is counted in runes, not bytes.
	city := strings.Repeat("é", 10)
	if _, err := ValidateQuery(models.SearchQuery{Origin: city, Destination: "ATQ", Date: "2026-11-02"}, 10); err != nil {
		t.Errorf("ValidateQuery() 10 runes with max 10 error = %v", err)
	}
}

// TestValidateQuery_RequiredBeforeLength verifies a missing field wins over an over-long one.
func TestValidateQuery_RequiredBeforeLength(t *testing.T) {
	_, err := ValidateQuery(models.SearchQuery{Origin: strings.Repeat("a", 200), Date: "2026-11-02"}, 100)
	if !errors.Is(err, ErrFieldRequired) {
		t.Errorf("error = %v, want ErrFieldRequired", err)
	}
	if errors.Is(err, ErrFieldTooLong) {
		t.Errorf("error = %v, should not report length when a field is missing", err)
	}
}

func TestValidateCity(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{" Bengaluru ", "Bengaluru", nil},
		{"St. John's", "St. John's", nil},
		{"São Paulo", "São Paulo", nil},
		{"", "", ErrFieldRequired},
		{"Delhi<script>", "", ErrCityInvalidChars},
		{"Amritsar1", "", ErrCityInvalidChars},
		{strings.Repeat("x", 51), "", ErrFieldTooLong},
	}
	for _, tc := range tests {
		got, err := ValidateCity(tc.in, 50)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateCity(%q) error = %v, want %v", tc.in, err, tc.wantErr)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ValidateCity(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}
