package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/flycompare/internal/models"
)

// keyPrefix namespaces search results in shared cache servers.
const keyPrefix = "flights:"

func encodeEntry(flights []models.FlightRecord, now time.Time, ttl time.Duration) ([]byte, error) {
	if flights == nil {
		flights = []models.FlightRecord{}
	}
	return json.Marshal(entry{Data: flights, Timestamp: now, TTLSeconds: int64(ttl / time.Second)})
}

// decodeEntry uses the ttl stored in raw, or fallback for entries written without one.
func decodeEntry(raw []byte, fallback time.Duration) (entry, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	if e.Data == nil {
		e.Data = []models.FlightRecord{}
	}
	e.ttl = fallback
	if e.TTLSeconds > 0 {
		e.ttl = time.Duration(e.TTLSeconds) * time.Second
	}
	return e, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// maxKeyLen keeps prefixed keys under memcached's 250 byte limit.
const maxKeyLen = 200

// encodeKey escapes whitespace and control characters, hashing keys that would be too long.
func encodeKey(k string) string {
	escaped := url.QueryEscape(k)
	if len(escaped) <= maxKeyLen {
		return escaped
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
