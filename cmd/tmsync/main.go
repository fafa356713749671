package main

import (
	"fmt"
	"os"

	app "github.com/valter-silva-au/tmsync/internal"
	"github.com/valter-silva-au/tmsync/internal/cli"
)

// Set by goreleaser ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	basePath := app.ResolveBasePath()

	a, err := app.NewApp(basePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing tmsync: %v\n", err)
		os.Exit(1)
	}

	err = cli.Execute()
	if closeErr := a.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
