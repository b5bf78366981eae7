package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/flycompare/internal/circuitbreaker"
	"github.com/kjstillabower/flycompare/internal/client"
	"github.com/kjstillabower/flycompare/internal/models"
	"github.com/kjstillabower/flycompare/internal/normalize"
	"github.com/kjstillabower/flycompare/internal/observability"
)

// DefaultSourceTimeout bounds a single automation run.
const DefaultSourceTimeout = 500 * time.Second

// ErrAborted is returned when the calling context ends before every source has reported.
var ErrAborted = errors.New("aggregation aborted")

// SourceOutcome reports what one source contributed to an aggregation.
type SourceOutcome struct {
	Name  string
	Count int
	Err   error
}

// Failed reports whether the source was skipped because of an error.
func (o SourceOutcome) Failed() bool {
	return o.Err != nil
}

// Result is the merged, price-sorted output of one aggregation.
type Result struct {
	Flights []models.FlightRecord
	Sources []SourceOutcome
}

// FailedSources returns the names of sources that contributed nothing because they failed,
// in configured order.
func (r Result) FailedSources() []string {
	var names []string
	for _, s := range r.Sources {
		if s.Failed() {
			names = append(names, s.Name)
		}
	}
	return names
}

// Config controls fan-out across sources.
type Config struct {
	Sites         []models.SourceSite
	SourceTimeout time.Duration
	// Concurrency bounds how many sources are queried at once. 1 queries them
	// one after another in configured order.
	Concurrency int
	// Breakers is keyed by source name. Sources without an entry are always called.
	Breakers map[string]*circuitbreaker.CircuitBreaker
}

// Aggregator queries every configured source for a route and merges the results.
type Aggregator struct {
	client        client.AutomationClient
	sites         []models.SourceSite
	sourceTimeout time.Duration
	concurrency   int
	breakers      map[string]*circuitbreaker.CircuitBreaker
	logger        *zap.Logger
}

// New returns an Aggregator that calls c for each site in cfg.
func New(c client.AutomationClient, cfg Config, logger *zap.Logger) *Aggregator {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sites := make([]models.SourceSite, len(cfg.Sites))
	copy(sites, cfg.Sites)
	return &Aggregator{
		client:        c,
		sites:         sites,
		sourceTimeout: cfg.SourceTimeout,
		concurrency:   cfg.Concurrency,
		breakers:      cfg.Breakers,
		logger:        logger,
	}
}

// Sites returns the configured sources in order.
func (a *Aggregator) Sites() []models.SourceSite {
	out := make([]models.SourceSite, len(a.sites))
	copy(out, a.sites)
	return out
}

// Aggregate queries each source for q and returns every valid flight sorted by
// ascending price. A failing source contributes zero records and is reported in
// Result.Sources; it never fails the aggregation. The only error is ErrAborted,
// when ctx ends before all sources have been joined.
func (a *Aggregator) Aggregate(ctx context.Context, q models.SearchQuery) (Result, error) {
	logger := a.logger
	if l := observability.LoggerFromContext(ctx); l != nil {
		logger = l
	}

	perSource := make([][]models.FlightRecord, len(a.sites))
	outcomes := make([]SourceOutcome, len(a.sites))
	goal := BuildGoal(q)

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, site := range a.sites {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = SourceOutcome{Name: site.Name, Err: err}
				return nil
			}
			flights, err := a.fetchSource(ctx, site, goal)
			outcomes[i] = SourceOutcome{Name: site.Name, Count: len(flights), Err: err}
			if err != nil {
				category := client.CategorizeError(err)
				observability.SourceFailuresTotal.WithLabelValues(site.Name, string(category)).Inc()
				logger.Warn("source skipped",
					zap.String("source", site.Name),
					zap.String("category", string(category)),
					zap.Error(err),
				)
				return nil
			}
			perSource[i] = flights
			return nil
		})
	}
	_ = g.Wait() // per-source errors are recorded in outcomes

	if err := ctx.Err(); err != nil {
		return Result{Sources: outcomes}, fmt.Errorf("%w: %w", ErrAborted, err)
	}

	total := 0
	for _, f := range perSource {
		total += len(f)
	}
	merged := make([]models.FlightRecord, 0, total)
	for _, f := range perSource {
		merged = append(merged, f...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Price < merged[j].Price
	})

	return Result{Flights: merged, Sources: outcomes}, nil
}

// fetchSource runs the automation for one site and normalizes its response.
// Panics inside the call are recovered and reported as errors for this source only.
func (a *Aggregator) fetchSource(ctx context.Context, site models.SourceSite, goal string) ([]models.FlightRecord, error) {
	var flights []models.FlightRecord
	call := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic while querying %s: %v", site.Name, r)
			}
		}()

		runCtx, cancel := context.WithTimeout(client.WithSourceLabel(ctx, site.Name), a.sourceTimeout)
		defer cancel()

		body, err := a.client.Run(runCtx, client.RunRequest{
			URL:         site.URL,
			Goal:        goal,
			ProxyConfig: client.ProxyConfig{Enabled: true},
		})
		if err != nil {
			return err
		}

		res, err := normalize.Normalize(body, site)
		if err != nil {
			return err
		}
		observability.FlightsNormalizedTotal.WithLabelValues(site.Name, "kept").Add(float64(len(res.Flights)))
		observability.FlightsNormalizedTotal.WithLabelValues(site.Name, "dropped").Add(float64(res.Dropped))
		flights = res.Flights
		return nil
	}

	var err error
	if cb := a.breakers[site.Name]; cb != nil {
		err = cb.Call(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return flights, nil
}

// BuildGoal renders the natural-language instruction sent to the automation agent.
func BuildGoal(q models.SearchQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search for one-way flights from %s to %s on %s.\n", q.Origin, q.Destination, q.Date)
	b.WriteString("Use the official booking form.\n")
	b.WriteString("If required, select 1 adult and economy class.\n")
	b.WriteString("Wait for results to fully load.\n")
	b.WriteString("Extract airline, departure_time, arrival_time, price, and booking_url.\n")
	b.WriteString("Ignore advertisements, sponsored results, and promotional banners.\n")
	b.WriteString("Return structured JSON array only.")
	return b.String()
}
