// Package normalize converts automation agent responses into canonical flight records.
//
// The agent returns whatever the scraping run produced, so the payload shape varies
// between runs. Shapes are resolved in a fixed priority order and anything
// unrecognized counts as zero flights rather than an error.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/kjstillabower/flycompare/internal/models"
)

var (
	// ErrMalformedPayload is returned when the response body is not a JSON object.
	ErrMalformedPayload = errors.New("malformed automation payload")
	// ErrMalformedResult is returned when a text result cannot be parsed as a JSON array.
	ErrMalformedResult = errors.New("malformed automation result text")
)

// shape identifies which variant of the agent output a payload carries.
type shape int

const (
	shapeUnknown shape = iota
	shapeFlights
	shapeResultList
	shapeResultText
)

func (s shape) String() string {
	switch s {
	case shapeFlights:
		return "flights"
	case shapeResultList:
		return "result_list"
	case shapeResultText:
		return "result_text"
	default:
		return "unknown"
	}
}

// fenceMarker matches ``` optionally followed by a language tag such as json.
var fenceMarker = regexp.MustCompile("```[A-Za-z0-9_-]*")

// nonPriceChars matches everything that is not part of a plain decimal number.
var nonPriceChars = regexp.MustCompile(`[^\d.]`)

// Result is the outcome of normalizing one source response.
type Result struct {
	Flights []models.FlightRecord
	// Dropped counts raw records discarded for a missing or non-positive price.
	Dropped int
	// Shape names the payload variant that matched, for logging.
	Shape string
}

// Normalize parses an automation API response body for site and returns its flights
// in upstream order. Errors are attributable to this source only.
func Normalize(payload []byte, site models.SourceSite) (Result, error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", site.Name, err)
	}

	// The run envelope nests the agent output under "result".
	if inner, ok := obj["result"]; ok && jsonKind(obj["flights"]) != '[' {
		if nested, err := decodeObject(inner); err == nil {
			obj = nested
		}
	}

	s, raw := detectShape(obj)
	records, err := rawRecords(s, raw)
	if err != nil {
		return Result{Shape: s.String()}, fmt.Errorf("%s: %w", site.Name, err)
	}

	res := Result{
		Flights: make([]models.FlightRecord, 0, len(records)),
		Shape:   s.String(),
	}
	for _, rec := range records {
		f, ok := mapRecord(rec, site)
		if !ok {
			res.Dropped++
			continue
		}
		res.Flights = append(res.Flights, f)
	}
	return res, nil
}

// detectShape picks the first matching variant: flights array, result array, result text.
func detectShape(obj map[string]json.RawMessage) (shape, json.RawMessage) {
	if raw, ok := obj["flights"]; ok && jsonKind(raw) == '[' {
		return shapeFlights, raw
	}
	if raw, ok := obj["result"]; ok {
		switch jsonKind(raw) {
		case '[':
			return shapeResultList, raw
		case '"':
			return shapeResultText, raw
		}
	}
	return shapeUnknown, nil
}

// rawRecords extracts the raw record list for a resolved shape.
func rawRecords(s shape, raw json.RawMessage) ([]json.RawMessage, error) {
	switch s {
	case shapeFlights, shapeResultList:
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return list, nil
	case shapeResultText:
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
		}
		return parseResultText(text)
	default:
		return nil, nil
	}
}

// parseResultText strips markdown code fences and parses the remainder as a JSON array.
func parseResultText(text string) ([]json.RawMessage, error) {
	cleaned := strings.TrimSpace(fenceMarker.ReplaceAllString(text, ""))
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return list, nil
}

// mapRecord maps one raw record to a FlightRecord. ok is false when the record
// is not an object or its price is not a finite positive number.
func mapRecord(raw json.RawMessage, site models.SourceSite) (models.FlightRecord, bool) {
	rec, err := decodeObject(raw)
	if err != nil {
		return models.FlightRecord{}, false
	}

	price := coercePrice(rec["price"])
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return models.FlightRecord{}, false
	}

	return models.FlightRecord{
		Airline:       stringOr(rec["airline"], site.Name),
		DepartureTime: stringOr(rec["departure_time"], models.NotAvailable),
		ArrivalTime:   stringOr(rec["arrival_time"], models.NotAvailable),
		Price:         price,
		Source:        site.Name,
		BookingURL:    stringOr(rec["booking_url"], site.URL),
	}, true
}

// coercePrice reads a price from a JSON number, or from a string after removing
// every character other than digits and dots. Anything else is NaN.
func coercePrice(raw json.RawMessage) float64 {
	switch jsonKind(raw) {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return math.NaN()
		}
		return parseFloat(nonPriceChars.ReplaceAllString(s, ""))
	case '0':
		return parseFloat(string(bytes.TrimSpace(raw)))
	default:
		return math.NaN()
	}
}

func parseFloat(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// stringOr returns the field as text, or fallback when it is absent, null or empty.
// Numeric and boolean values keep their JSON spelling.
func stringOr(raw json.RawMessage, fallback string) string {
	switch jsonKind(raw) {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	case '0', 't':
		return string(bytes.TrimSpace(raw))
	}
	return fallback
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	if jsonKind(raw) != '{' {
		return nil, ErrMalformedPayload
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return obj, nil
}

// jsonKind classifies a raw JSON value by its first byte: '{', '[', '"', '0' for
// numbers, 't' for true, 'f' for false, 'n' for null, 0 for empty.
func jsonKind(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	switch c := raw[0]; {
	case c == '-' || (c >= '0' && c <= '9'):
		return '0'
	default:
		return c
	}
}
