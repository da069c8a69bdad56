package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlasmap-sc/ingest/internal/anndata"
	"github.com/atlasmap-sc/ingest/internal/h5"
	"github.com/atlasmap-sc/ingest/internal/metrics"
	"github.com/atlasmap-sc/ingest/internal/workpool"
)

// Config configures a Pipeline.
type Config struct {
	Runner Runner
	// Opener inspects intermediate files; h5.OpenFile when nil.
	Opener h5.Opener
	// Transpose is the obs/var orientation the data will be loaded with.
	Transpose bool
	// ScratchDir holds intermediate files.
	ScratchDir string
	// SkipUnraw disables extracting raw/X in place of a badly oriented X.
	SkipUnraw bool
	// SkipTranspose leaves badly oriented matrices alone; loading them fails.
	SkipTranspose bool
	Metrics       *metrics.Metrics
}

// Result describes the file a loader should read after Prepare.
type Result struct {
	Path    string
	Info    *anndata.Info
	Applied []Purpose
}

// Unrawed reports whether raw/X was promoted to X.
func (r *Result) Unrawed() bool {
	for _, p := range r.Applied {
		if p == PurposeUnraw {
			return true
		}
	}
	return false
}

// Pipeline applies the on-disk checks to AnnData files and owns the
// intermediate files it produces until Close.
type Pipeline struct {
	cfg   Config
	temps *Temps
	log   *slog.Logger
}

// New returns a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Opener == nil {
		cfg.Opener = h5.OpenFile
	}
	cfg.Runner = Instrument(cfg.Runner, cfg.Metrics)
	return &Pipeline{
		cfg:   cfg,
		temps: NewTemps(cfg.ScratchDir),
		log:   slog.Default().With("component", "transform"),
	}
}

// Temps returns the tracker of intermediate files.
func (p *Pipeline) Temps() *Temps { return p.temps }

// Prepare inspects the AnnData file at path and runs, in order, the rewrite,
// unraw and transpose transformations it needs. Each step reads the output
// of the previous one. The original file is never modified. On failure the
// intermediate files produced so far are removed.
func (p *Pipeline) Prepare(ctx context.Context, path string) (*Result, error) {
	res, err := p.prepare(ctx, path)
	if err != nil {
		return nil, withCleanup(err, p.temps.Cleanup)
	}
	return res, nil
}

func (p *Pipeline) prepare(ctx context.Context, path string) (*Result, error) {
	res := &Result{Path: path}
	info, err := anndata.InspectFile(path, p.cfg.Opener)
	if err != nil {
		return nil, err
	}

	if info.MissingEncoding {
		p.log.Warn("file lacks encoding metadata, rewriting", "path", path)
		if info, err = p.apply(ctx, res, PurposeRewrite); err != nil {
			return nil, err
		}
		if info.MissingEncoding {
			return nil, fmt.Errorf("%s still lacks encoding metadata after rewriting: %w", res.Path, anndata.ErrMissingEncoding)
		}
	}

	if !p.cfg.SkipUnraw && info.NeedsUnraw(p.cfg.Transpose) {
		p.log.Info("X needs transposition, using raw/X instead", "path", res.Path, "encoding", info.Encoding)
		if info, err = p.apply(ctx, res, PurposeUnraw); err != nil {
			return nil, err
		}
	}

	if info.NeedsTranspose(p.cfg.Transpose) {
		if p.cfg.SkipTranspose {
			p.log.Warn("X is not stored gene-major and transposition is disabled", "path", res.Path, "encoding", info.Encoding)
		} else {
			p.log.Info("transposing X", "path", res.Path, "encoding", info.Encoding)
			if info, err = p.apply(ctx, res, PurposeTranspose); err != nil {
				return nil, err
			}
			if info.NeedsTranspose(p.cfg.Transpose) {
				return nil, fmt.Errorf("%s is still a %s after transposing: %w", res.Path, info.Encoding, anndata.ErrNeedsTranspose)
			}
		}
	}
	res.Info = info
	return res, nil
}

// apply runs purpose on res.Path into a fresh temporary file, makes it the
// current path and inspects it.
func (p *Pipeline) apply(ctx context.Context, res *Result, purpose Purpose) (*anndata.Info, error) {
	if p.cfg.Runner == nil {
		return nil, fmt.Errorf("%s needs %s: %w", res.Path, purpose, ErrNoRunner)
	}
	out, err := p.temps.Path(string(purpose), ".h5ad")
	if err != nil {
		return nil, err
	}
	if err := p.cfg.Runner.Run(ctx, purpose, res.Path, out); err != nil {
		return nil, err
	}
	res.Path = out
	res.Applied = append(res.Applied, purpose)
	info, err := anndata.InspectFile(out, p.cfg.Opener)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect the output of %s: %w", purpose, err)
	}
	return info, nil
}

// Filter10x runs the 10x filter on every sample directory, each into its own
// temporary directory, and returns the outputs in input order. Samples are
// filtered concurrently on pool, or sequentially when pool is nil. On failure
// the intermediate files produced so far are removed.
func (p *Pipeline) Filter10x(ctx context.Context, dirs []string, pool *workpool.Pool) ([]string, error) {
	if p.cfg.Runner == nil {
		return nil, fmt.Errorf("%d samples need %s: %w", len(dirs), PurposeFilter10x, ErrNoRunner)
	}
	outputs := make([]string, len(dirs))
	for i := range dirs {
		out, err := p.temps.Dir(string(PurposeFilter10x))
		if err != nil {
			return nil, withCleanup(err, p.temps.Cleanup)
		}
		outputs[i] = out
	}
	fns := make([]func(context.Context) error, len(dirs))
	for i := range dirs {
		in, out := dirs[i], outputs[i]
		fns[i] = func(ctx context.Context) error {
			if err := p.cfg.Runner.Run(ctx, PurposeFilter10x, in, out); err != nil {
				return fmt.Errorf("failed to filter %s: %w", in, err)
			}
			return nil
		}
	}
	var err error
	if pool == nil {
		if len(dirs) > 1 {
			p.log.Warn("no worker pool supplied, filtering 10x samples sequentially", "samples", len(dirs))
		}
		var errs []error
		for _, fn := range fns {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}
			errs = append(errs, fn(ctx))
		}
		err = errors.Join(errs...)
	} else {
		p.log.Info("filtering 10x samples", "samples", len(dirs), "workers", pool.Size())
		err = pool.Run(ctx, fns...)
	}
	if err != nil {
		return nil, withCleanup(err, p.temps.Cleanup)
	}
	return outputs, nil
}

// Close removes every intermediate file.
func (p *Pipeline) Close() error {
	return p.temps.Cleanup()
}

// Instrument records every run of r in m. It returns r when m is nil.
func Instrument(r Runner, m *metrics.Metrics) Runner {
	if m == nil || r == nil {
		return r
	}
	return RunnerFunc(func(ctx context.Context, purpose Purpose, input, output string, extra ...string) error {
		start := time.Now()
		err := r.Run(ctx, purpose, input, output, extra...)
		m.ObserveTransformation(string(purpose), start, err)
		return err
	})
}
