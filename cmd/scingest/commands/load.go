package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/atlasmap-sc/ingest/internal/service"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
	"github.com/atlasmap-sc/ingest/internal/store"
)

// runParams builds run parameters from the load flags.
func runParams(cmd *cli.Command) (store.RunParams, error) {
	params := store.RunParams{
		DatasetID:                               cmd.String("dataset"),
		QuantitationType:                        cmd.String("quantitation-type"),
		NewName:                                 cmd.String("new-name"),
		NewDescription:                          cmd.String("new-description"),
		PreferSinglePrecision:                   cmd.Bool("prefer-single-precision"),
		MarkAsPreferred:                         cmd.Bool("mark-preferred"),
		MarkAsRecomputedFromRawData:             cmd.Bool("recomputed-from-raw-data"),
		PreferredCellTypeAssignment:             cmd.String("preferred-cell-type-assignment"),
		MarkSingleCellTypeAssignmentAsPreferred: cmd.Bool("mark-single-cell-type-assignment-preferred"),
		ElementMappingFile:                      cmd.String("element-mapping"),
	}
	if v := cmd.String("new-type"); v != "" {
		t, err := singlecell.ParseType(v)
		if err != nil {
			return params, err
		}
		params.NewType = t
	}
	if v := cmd.String("new-scale"); v != "" {
		s, err := singlecell.ParseScale(v)
		if err != nil {
			return params, err
		}
		params.NewScale = s
	}
	if params.PreferredCellTypeAssignment != "" && params.MarkSingleCellTypeAssignmentAsPreferred {
		return params, errors.New("--preferred-cell-type-assignment and --mark-single-cell-type-assignment-preferred are mutually exclusive")
	}
	return params, nil
}

// LoadAction ingests a configured dataset into the store synchronously.
func LoadAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	params, err := runParams(cmd)
	if err != nil {
		return err
	}
	registry, err := app.Registry()
	if err != nil {
		return err
	}
	if registry.Get(params.DatasetID) == nil {
		return fmt.Errorf("dataset not found: %s", params.DatasetID)
	}

	st, err := store.NewStore(app.Config.Store.SQLitePath)
	if err != nil {
		return err
	}
	defer st.Close()

	run := &store.Run{
		ID:        uuid.NewString(),
		DatasetID: params.DatasetID,
		Status:    store.RunStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}
	if err := st.CreateRun(run); err != nil {
		return err
	}
	if err := st.UpdateRunStarted(run.ID); err != nil {
		return err
	}

	svc := service.NewIngestService(registry, app.Configurer, app.Metrics)
	svc.BatchSize = app.Config.Store.BatchSize
	done := app.Metrics.RunStarted()
	execErr := svc.ExecuteRun(ctx, st, run.ID)
	done()

	status, msg := store.RunStatusCompleted, ""
	switch {
	case errors.Is(execErr, context.Canceled):
		status, msg = store.RunStatusCancelled, "interrupted"
	case execErr != nil:
		status, msg = store.RunStatusFailed, execErr.Error()
	}
	app.Metrics.ObserveRun(string(status))
	if err := st.UpdateRunStatus(run.ID, status, msg); err != nil {
		return errors.Join(execErr, err)
	}
	if execErr != nil {
		return execErr
	}

	run, err = st.GetRun(run.ID)
	if err != nil {
		return err
	}
	return printRun(output(cmd), run)
}

func printRun(w io.Writer, run *store.Run) error {
	table := tablewriter.NewWriter(w)
	table.Header("Run", "Dataset", "Status", "Quantitation type", "Cells", "Vectors")
	qt := ""
	if run.QuantitationType != nil {
		qt = run.QuantitationType.String()
	}
	table.Append(run.ID, run.DatasetID, string(run.Status), qt, fmt.Sprintf("%d", run.Cells), fmt.Sprintf("%d", run.Vectors))
	return table.Render()
}
