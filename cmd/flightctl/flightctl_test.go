package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/flycompare/internal/config"
	"github.com/kjstillabower/flycompare/internal/models"
)

func newTestApp(t *testing.T, automationURL, airportURL, aviationKey string) *app {
	t.Helper()
	return &app{load: func() (*config.Config, error) {
		return &config.Config{
			TinyFishKey:       "tf-key",
			AutomationURL:     automationURL,
			AutomationTimeout: 5 * time.Second,
			FetchConcurrency:  1,
			Sources: []models.SourceSite{
				{Name: "Spice Jet", URL: "https://www.spicejet.com/"},
				{Name: "IndiGo", URL: "https://www.goindigo.in"},
			},
			AviationKey:    aviationKey,
			AirportURL:     airportURL,
			AirportTimeout: 5 * time.Second,
		}, nil
	}}
}

func execute(t *testing.T, a *app, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func automationServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.URL == "https://www.spicejet.com/" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"flights":[
			{"airline":"IndiGo","departure_time":"06:10","arrival_time":"09:05","price":5200},
			{"airline":"IndiGo","departure_time":"21:40","arrival_time":"00:35","price":"₹3,999"}]}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSearchCmd_Table(t *testing.T) {
	server := automationServer(t)

	out, errOut, err := execute(t, newTestApp(t, server.URL, "", ""), "search", "--origin", "BLR", "--destination", "ATQ", "--date", "2026-03-15")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "PRICE"))
	assert.True(t, strings.HasPrefix(lines[1], "3999.00"), "cheapest first: %q", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "5200.00"))
	assert.Contains(t, errOut, "sources failed: Spice Jet")
}

func TestSearchCmd_JSON(t *testing.T) {
	server := automationServer(t)

	out, _, err := execute(t, newTestApp(t, server.URL, "", ""), "search", "--origin", "BLR", "--destination", "ATQ", "--date", "2026-03-15", "--json")
	require.NoError(t, err)

	var flights []models.FlightRecord
	require.NoError(t, json.Unmarshal([]byte(out), &flights))
	require.Len(t, flights, 2)
	assert.Equal(t, 3999.0, flights[0].Price)
	assert.Equal(t, "IndiGo", flights[0].Source)
	assert.Equal(t, "https://www.goindigo.in", flights[0].BookingURL)
}

func TestSearchCmd_MissingFlag(t *testing.T) {
	loaded := false
	a := &app{load: func() (*config.Config, error) {
		loaded = true
		return nil, errors.New("unexpected")
	}}

	_, _, err := execute(t, a, "search", "--origin", "BLR", "--destination", "ATQ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date")
	assert.False(t, loaded, "config must not load when flags are missing")
}

func TestSearchCmd_BlankField(t *testing.T) {
	_, _, err := execute(t, newTestApp(t, "http://127.0.0.1:1", "", ""), "search", "--origin", "  ", "--destination", "ATQ", "--date", "2026-03-15")
	require.Error(t, err)
}

func TestSearchCmd_ConfigError(t *testing.T) {
	a := &app{load: func() (*config.Config, error) { return nil, errors.New("TINYFISH_KEY required") }}

	_, _, err := execute(t, a, "search", "--origin", "BLR", "--destination", "ATQ", "--date", "2026-03-15")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TINYFISH_KEY")
}

func TestAirportCmd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Amritsar", r.URL.Query().Get("search"))
		_, _ = io.WriteString(w, `{"data":[{"airport_name":"Sri Guru Ram Dass Jee","iata_code":"ATQ"}]}`)
	}))
	t.Cleanup(server.Close)

	out, _, err := execute(t, newTestApp(t, "", server.URL, "av-key"), "airport", "Amritsar")
	require.NoError(t, err)
	assert.Equal(t, "Amritsar\tATQ\n", out)
}

func TestAirportCmd_NoKey(t *testing.T) {
	_, _, err := execute(t, newTestApp(t, "", "", ""), "airport", "Amritsar")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AVIATION_KEY")
}

func TestAirportCmd_InvalidCity(t *testing.T) {
	_, _, err := execute(t, newTestApp(t, "", "", "av-key"), "airport", "Amritsar<script>")
	require.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	assert.Equal(t, "no flights found\n", renderTable(nil))

	table := renderTable([]models.FlightRecord{
		{Airline: "エアアジア", DepartureTime: "06:10", ArrivalTime: "09:05", Price: 4500, Source: "AirAsia", BookingURL: "https://www.airasia.com"},
		{Airline: "IndiGo", DepartureTime: models.NotAvailable, ArrivalTime: models.NotAvailable, Price: 5100.5, Source: "IndiGo", BookingURL: "https://www.goindigo.in"},
	})
	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	require.Len(t, lines, 3)

	// The last column starts at the same display offset on every row.
	offsets := make([]int, len(lines))
	for i, line := range lines {
		idx := strings.Index(line, []string{"BOOKING URL", "https://www.airasia.com", "https://www.goindigo.in"}[i])
		require.GreaterOrEqual(t, idx, 0, "line %q", line)
		offsets[i] = runewidth.StringWidth(line[:idx])
	}
	assert.Equal(t, offsets[0], offsets[1])
	assert.Equal(t, offsets[0], offsets[2])
}
