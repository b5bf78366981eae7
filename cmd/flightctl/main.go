// Command flightctl runs one-off flight searches and airport lookups from a terminal,
// using the same configuration and sources as the service.
package main

import (
	"fmt"
	"os"

	"github.com/kjstillabower/flycompare/internal/config"
	"github.com/kjstillabower/flycompare/internal/observability"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(&app{load: config.Load, logger: logger})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
