package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/flycompare/internal/aggregator"
	"github.com/kjstillabower/flycompare/internal/cache"
	"github.com/kjstillabower/flycompare/internal/client"
	"github.com/kjstillabower/flycompare/internal/models"
	"github.com/kjstillabower/flycompare/internal/service"
	"github.com/kjstillabower/flycompare/internal/validation"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		q      models.SearchQuery
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "search",
		Short:   "Search every configured source for one route and date",
		Example: "  flightctl search --origin BLR --destination ATQ --date 2026-03-15",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := validation.ValidateQuery(q, validation.DefaultMaxFieldLength)
			if err != nil {
				return err
			}
			cfg, err := a.load()
			if err != nil {
				return err
			}
			tf, err := client.NewTinyFishClient(cfg.TinyFishKey, cfg.AutomationURL, cfg.AutomationTimeout)
			if err != nil {
				return err
			}
			agg := aggregator.New(tf, aggregator.Config{
				Sites:         cfg.Sources,
				SourceTimeout: cfg.AutomationTimeout,
				Concurrency:   cfg.FetchConcurrency,
			}, a.logger)
			svc := service.NewSearchService(agg, cache.NewInMemoryCache(1), service.Options{Logger: a.logger})

			result, err := svc.Search(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("flight search failed: %w", err)
			}
			if len(result.FailedSources) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "sources failed: %s\n", strings.Join(result.FailedSources, ", "))
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result.Flights)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), renderTable(result.Flights))
			return err
		},
	}
	cmd.Flags().StringVar(&q.Origin, "origin", "", "origin airport code or city")
	cmd.Flags().StringVar(&q.Destination, "destination", "", "destination airport code or city")
	cmd.Flags().StringVar(&q.Date, "date", "", "travel date, e.g. 2026-03-15")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the flights as a JSON array")
	_ = cmd.MarkFlagRequired("origin")
	_ = cmd.MarkFlagRequired("destination")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
