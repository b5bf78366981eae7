package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAirportURL is the aviationstack airport directory endpoint.
const DefaultAirportURL = "http://api.aviationstack.com/v1/airports"

var (
	// ErrNoAirports is returned when the directory has no airports for the search term.
	ErrNoAirports = errors.New("no airports returned")
	// ErrNoIATACode is returned when none of the returned airports has a 3-letter IATA code.
	ErrNoIATACode = errors.New("no valid IATA code found")
	// ErrAirportLookupDisabled is returned when no access key is configured.
	ErrAirportLookupDisabled = errors.New("airport lookup not configured")
)

// AirportLookup resolves a city name to an IATA airport code.
type AirportLookup interface {
	LookupIATA(ctx context.Context, city string) (string, error)
}

// AirportClient queries the aviationstack airport directory.
// It never falls back to a placeholder code: every failure is returned to the caller.
type AirportClient struct {
	accessKey string
	apiURL    string
	limit     int
	client    *http.Client
}

// NewAirportClient returns an AirportClient. An empty accessKey yields a client whose
// lookups fail with ErrAirportLookupDisabled.
func NewAirportClient(accessKey, apiURL string, timeout time.Duration) *AirportClient {
	if apiURL == "" {
		apiURL = DefaultAirportURL
	}
	return &AirportClient{
		accessKey: accessKey,
		apiURL:    apiURL,
		limit:     5,
		client:    &http.Client{Timeout: timeout},
	}
}

type airportResponse struct {
	Data []struct {
		AirportName string `json:"airport_name"`
		IATACode    string `json:"iata_code"`
	} `json:"data"`
}

// LookupIATA returns the first 3-letter IATA code among the directory results for city.
func (c *AirportClient) LookupIATA(ctx context.Context, city string) (string, error) {
	if c.accessKey == "" {
		return "", ErrAirportLookupDisabled
	}

	req, err := c.buildRequest(ctx, city)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("airport lookup for %s: http request failed: %w", city, err)
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		return "", fmt.Errorf("airport lookup for %s: %w", city, err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	var apiResp airportResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	if len(apiResp.Data) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoAirports, city)
	}
	for _, a := range apiResp.Data {
		if isIATACode(a.IATACode) {
			return strings.ToUpper(a.IATACode), nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoIATACode, city)
}

func (c *AirportClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("access_key", c.accessKey)
	params.Set("search", city)
	params.Set("limit", fmt.Sprint(c.limit))
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// isIATACode reports whether code is exactly three ASCII letters.
func isIATACode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
