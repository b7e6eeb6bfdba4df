// Command volload serves progressive volume loads over HTTP and fetches
// single series from the command line.
//
// Usage:
//
//	volload serve [--config volload.yaml]
//	volload fetch [--config volload.yaml] SERIES_ID
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "volload:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "volload",
		Usage:   "Progressive loader for 3D medical volumes",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"VOLLOAD_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "overrides log.level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			fetchCommand(),
		},
	}
}
