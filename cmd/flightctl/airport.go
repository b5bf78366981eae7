package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/flycompare/internal/client"
	"github.com/kjstillabower/flycompare/internal/validation"
)

func newAirportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "airport <city>",
		Short:   "Resolve a city name to its IATA airport code",
		Example: "  flightctl airport Amritsar",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			city, err := validation.ValidateCity(args[0], validation.DefaultMaxFieldLength)
			if err != nil {
				return err
			}
			cfg, err := a.load()
			if err != nil {
				return err
			}
			code, err := client.NewAirportClient(cfg.AviationKey, cfg.AirportURL, cfg.AirportTimeout).LookupIATA(cmd.Context(), city)
			if errors.Is(err, client.ErrAirportLookupDisabled) {
				return fmt.Errorf("%w: set AVIATION_KEY or aviation_key in config/secrets.yaml", err)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", city, code)
			return err
		},
	}
}
