package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/flycompare/internal/config"
)

// app carries what subcommands share. load is swapped in tests.
type app struct {
	load   func() (*config.Config, error)
	logger *zap.Logger
}

func newRootCmd(a *app) *cobra.Command {
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	root := &cobra.Command{
		Use:          "flightctl",
		Short:        "Compare one-way flight prices across airline sites",
		Long:         "flightctl queries the configured airline sites through the automation agent and prints the offers sorted by price. Configuration is read from config/{ENV_NAME}.yaml.",
		SilenceUsage: true,
	}
	root.AddCommand(newSearchCmd(a), newAirportCmd(a))
	return root
}
