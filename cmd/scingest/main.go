// Command scingest loads single-cell expression data into a run store and
// serves it over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/atlasmap-sc/ingest/cmd/scingest/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "scingest:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "scingest",
		Usage: "single-cell expression data ingestion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "configuration file",
				Value:   "config/scingest.yaml",
				Sources: cli.EnvVars("SCINGEST_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "show the samples, quantitation types and genes of a data path",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dataset",
						Usage: "inspect a configured dataset instead of a path",
					},
					&cli.StringFlag{
						Name:  "type",
						Usage: "anndata, mex or null (detected when empty)",
					},
					&cli.StringFlag{
						Name:  "sample-factor",
						Usage: "AnnData cell annotation holding sample names",
					},
					&cli.StringFlag{
						Name:  "cell-type-factor",
						Usage: "AnnData cell annotation holding cell types",
					},
					&cli.BoolFlag{
						Name:  "transpose",
						Usage: "genes are in obs and cells in var",
					},
					&cli.BoolFlag{
						Name:  "skip-transformations",
						Usage: "load the file as is",
					},
				},
				Action: commands.InspectAction,
			},
			{
				Name:  "load",
				Usage: "ingest a configured dataset into the store",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "dataset",
						Usage:    "dataset identifier",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "quantitation-type",
						Usage: "quantitation type to load (required when there are several)",
					},
					&cli.StringFlag{Name: "new-name", Usage: "rename the quantitation type"},
					&cli.StringFlag{Name: "new-description", Usage: "describe the quantitation type"},
					&cli.StringFlag{Name: "new-type", Usage: "COUNT or AMOUNT"},
					&cli.StringFlag{Name: "new-scale", Usage: "COUNT, OTHER or UNKNOWN"},
					&cli.BoolFlag{Name: "prefer-single-precision", Usage: "store LONG as INT and DOUBLE as FLOAT"},
					&cli.BoolFlag{Name: "mark-preferred", Usage: "mark the quantitation type as preferred"},
					&cli.BoolFlag{Name: "recomputed-from-raw-data", Usage: "mark the quantitation type as recomputed from raw data"},
					&cli.StringFlag{Name: "preferred-cell-type-assignment", Usage: "name of the preferred cell type assignment"},
					&cli.BoolFlag{Name: "mark-single-cell-type-assignment-preferred", Usage: "mark the only cell type assignment as preferred"},
					&cli.StringFlag{Name: "element-mapping", Usage: "TSV mapping genes to design elements"},
				},
				Action: commands.LoadAction,
			},
			{
				Name:      "transform",
				Usage:     "run one on-disk transformation",
				ArgsUsage: "<input> <output> [extra...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "purpose",
						Usage:    "rewrite, unraw, transpose, sample, sort-by-sample, pack or filter-10x",
						Required: true,
					},
				},
				Action: commands.TransformAction,
			},
			{
				Name:  "serve",
				Usage: "serve the HTTP API and execute queued runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "listen port (overrides the configuration)",
					},
				},
				Action: commands.ServeAction,
			},
		},
	}
}
