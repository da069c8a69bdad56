package commands

import (
	"context"
	"errors"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/atlasmap-sc/ingest/internal/transform"
)

// TransformAction runs one on-disk transformation: <input> <output> [extra...].
func TransformAction(ctx context.Context, cmd *cli.Command) error {
	purpose, err := transform.ParsePurpose(cmd.String("purpose"))
	if err != nil {
		return err
	}
	if cmd.Args().Len() < 2 {
		return errors.New("expected an input and an output path")
	}
	args := cmd.Args().Slice()

	app, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	start := time.Now()
	err = app.Runner.Run(ctx, purpose, args[0], args[1], args[2:]...)
	app.Metrics.ObserveTransformation(string(purpose), start, err)
	if err != nil {
		return err
	}
	app.Logger.Info("transformation completed", "purpose", purpose, "output", args[1], "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
