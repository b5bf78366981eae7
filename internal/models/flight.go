package models

import "strings"

// NotAvailable is the placeholder for departure/arrival times the source did not report.
const NotAvailable = "N/A"

// SearchQuery is a one-way flight search as submitted by the UI.
type SearchQuery struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Date        string `json:"date"`
}

// CacheKey derives the result cache key: trimmed fields joined by "-", lowercased.
// Queries differing only by case or surrounding whitespace share a key.
func (q SearchQuery) CacheKey() string {
	return strings.ToLower(strings.TrimSpace(q.Origin) + "-" + strings.TrimSpace(q.Destination) + "-" + strings.TrimSpace(q.Date))
}

// FlightRecord is the canonical flight offer returned to clients.
// Price is always finite and positive; Source is always the configured site name.
type FlightRecord struct {
	Airline       string  `json:"airline"`
	DepartureTime string  `json:"departure_time"`
	ArrivalTime   string  `json:"arrival_time"`
	Price         float64 `json:"price"`
	Source        string  `json:"source"`
	BookingURL    string  `json:"booking_url"`
}

// SourceSite is one airline or travel site targeted by the automation agent.
type SourceSite struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// CloneFlights returns a copy of flights so cached slices are never shared with callers.
// A nil input yields an empty, non-nil slice so responses encode as [].
func CloneFlights(flights []FlightRecord) []FlightRecord {
	out := make([]FlightRecord, len(flights))
	copy(out, flights)
	return out
}
