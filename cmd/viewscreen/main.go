// Package main is the viewscreen command line tool: it inspects calibration documents,
// dumps correction tables and runs camera frames through a calibration pipeline offline.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/beamline/viewscreen/logging"
)

const (
	// Flags.
	flagDebug    = "debug"
	flagConfig   = "config"
	flagDocument = "doc"
	flagOut      = "out"
	flagFormat   = "format"
	flagTarget   = "target"
	flagIris     = "iris"
	flagEnergy   = "energy"
	flagPlot     = "plot"

	formatTIFF = "tiff"
	formatPPM  = "ppm"
	formatQOI  = "qoi"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	var logger logging.Logger

	return &cli.App{
		Name:  "viewscreen",
		Usage: "calibrate beamline viewscreen camera images",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("viewscreen")
			} else {
				logger = logging.NewLogger("viewscreen")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "print the contents of a calibration document",
				ArgsUsage: "<document>",
				Action: func(c *cli.Context) error {
					return inspectAction(c, logger)
				},
			},
			{
				Name:      "process",
				Usage:     "run camera frames through the configured pipeline",
				ArgsUsage: "<frame> [frame...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagConfig,
						Aliases:  []string{"c"},
						Usage:    "load service configuration from `FILE`",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagDocument,
						Usage: "calibration document, overriding the configured one",
					},
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "write processed frames to `DIR`",
					},
					&cli.StringFlag{
						Name:  flagFormat,
						Usage: "output image format (tiff, ppm or qoi)",
						Value: formatTIFF,
					},
				},
				Action: func(c *cli.Context) error {
					return processAction(c, logger)
				},
			},
			{
				Name:  "tables",
				Usage: "build and summarize the correction tables of a calibration document",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagDocument,
						Usage:    "calibration document",
						Required: true,
					},
					&cli.StringFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Usage:   "service configuration providing efficiency map directories",
					},
					&cli.IntFlag{
						Name:  flagTarget,
						Usage: "target slot for the efficiency table",
					},
					&cli.Float64Flag{
						Name:  flagIris,
						Usage: "iris diameter in mm; the efficiency table is built when set",
					},
					&cli.Float64Flag{
						Name:  flagEnergy,
						Usage: "beam energy",
					},
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "write heat map plots of the tables to `DIR`",
					},
				},
				Action: func(c *cli.Context) error {
					return tablesAction(c, logger)
				},
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the service configuration",
				Action: schemaAction,
			},
		},
	}
}
