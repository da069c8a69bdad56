package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/atlasmap-sc/ingest/internal/configurer"
	"github.com/atlasmap-sc/ingest/internal/loader"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// inspectOptions returns the options of --dataset, or builds them from the
// path argument and flags.
func inspectOptions(app *AppContext, cmd *cli.Command) (configurer.Options, []*singlecell.Sample, error) {
	if id := cmd.String("dataset"); id != "" {
		ds := app.Config.Datasets.Get(id)
		if ds == nil {
			return configurer.Options{}, nil, fmt.Errorf("dataset not found: %s", id)
		}
		opts, err := ds.Options()
		return opts, ds.Samples, err
	}
	if cmd.Args().Len() != 1 {
		return configurer.Options{}, nil, errors.New("expected a data path or --dataset")
	}
	opts := configurer.DefaultOptions()
	opts.DataPath = cmd.Args().First()
	if t := cmd.String("type"); t != "" {
		dt, err := configurer.ParseDataType(t)
		if err != nil {
			return opts, nil, err
		}
		opts.DataType = dt
	}
	opts.SampleFactorName = cmd.String("sample-factor")
	opts.CellTypeFactorName = cmd.String("cell-type-factor")
	opts.Transpose = cmd.Bool("transpose")
	opts.SkipTransformations = cmd.Bool("skip-transformations")
	return opts, nil, nil
}

// InspectAction prints what a data path contains: its type, sample names,
// quantitation types and gene count.
func InspectAction(ctx context.Context, cmd *cli.Command) (err error) {
	app, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	opts, samples, err := inspectOptions(app, cmd)
	if err != nil {
		return err
	}
	if opts.DataType == "" {
		if opts.DataType, err = configurer.DetectDataType(opts.DataPath); err != nil {
			return err
		}
	}

	l, err := app.Configurer.Configure(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, l.Close())
	}()

	return printInspection(output(cmd), opts, l, samples)
}

func printInspection(w io.Writer, opts configurer.Options, l loader.Loader, samples []*singlecell.Sample) error {
	names, err := l.SampleNames()
	if err != nil {
		return err
	}
	genes, err := l.Genes()
	if err != nil {
		return err
	}
	qts, err := l.QuantitationTypes()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "path:  %s\ntype:  %s\ngenes: %d\n\n", opts.DataPath, opts.DataType, len(genes))

	table := tablewriter.NewWriter(w)
	table.Header("Sample name")
	for _, n := range names {
		table.Append(n)
	}
	if err := table.Render(); err != nil {
		return err
	}

	table = tablewriter.NewWriter(w)
	table.Header("Quantitation type", "Type", "Scale", "Representation", "Location")
	for _, qt := range qts {
		table.Append(qt.Name, string(qt.Type), string(qt.Scale), string(qt.Representation), qt.Location)
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(samples) == 0 {
		return nil
	}
	dim, err := l.CellDimension(samples)
	if err != nil {
		return err
	}
	table = tablewriter.NewWriter(w)
	table.Header("Sample", "Offset", "Cells")
	for i, s := range dim.Samples {
		table.Append(s.ID, fmt.Sprintf("%d", dim.Offsets[i]), fmt.Sprintf("%d", dim.NumCellsBySample(i)))
	}
	table.Footer("Total", "", fmt.Sprintf("%d", dim.NumCells()))
	return table.Render()
}
