package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mersect-core/gf2"
	"mersect-core/intersect"
	"mersect/internal/cli"
	"mersect/internal/config"
	"mersect/internal/logging"
	"mersect/internal/metrics"
	"mersect/internal/pipeline"
)

func newIntersectCmd() *cobra.Command {
	var opts cli.Options
	cmd := &cobra.Command{
		Use:   "intersect [flags] FILE...",
		Short: "Write the k-mers common to all files and the unique k-mers of each file",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Files = args
			if opts.ConfigFile != "" {
				f, err := config.Load(opts.ConfigFile)
				if err != nil {
					return fmt.Errorf("%w: %w", cli.ErrConfig, err)
				}
				opts.ApplyFile(cmd.Flags(), f)
			}
			s, err := opts.Validate()
			if err != nil {
				return err
			}
			return runIntersect(cmd.Context(), s, cmd.ErrOrStderr())
		},
	}
	cli.Register(cmd.Flags(), &opts)
	cmd.Flags().SortFlags = false
	return cmd
}

func runIntersect(ctx context.Context, s cli.Settings, stderr io.Writer) error {
	log := logging.New(stderr, s.Verbose)

	var matrix *gf2.Matrix
	if s.Matrix != "" {
		m, err := gf2.LoadFile(s.Matrix)
		if err != nil {
			return fmt.Errorf("%w: %w", cli.ErrConfig, err)
		}
		matrix = &m
	}
	ary, err := intersect.New(intersect.Config{
		Size:       s.Slots,
		K:          s.K,
		Matrix:     matrix,
		Seed:       s.Seed,
		Shards:     s.Threads,
		MaxReprobe: s.Reprobes,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrConfig, err)
	}
	if s.DumpMatrix != "" {
		if err := ary.Matrix().SaveFile(s.DumpMatrix); err != nil {
			return runtimeErr(fmt.Errorf("dump matrix: %w", err))
		}
	}
	log.Debug("array ready",
		"k", s.K,
		"slots", ary.Size(),
		"threads", s.Threads,
		"canonical", s.Canonical,
		"files", len(s.Files))

	var met *metrics.Run
	if s.MetricsFile != "" {
		met = metrics.New()
	}
	start := time.Now()
	res, err := pipeline.Run(ctx, pipeline.Config{
		K:            s.K,
		Threads:      s.Threads,
		Array:        ary,
		Canonical:    s.Canonical,
		Intersection: s.Intersection,
		UniquePrefix: s.Prefix,
		Lookahead:    s.Lookahead,
		BufferSize:   s.BufferSize,
		Logger:       log,
		Metrics:      met,
	}, s.Files)
	if met != nil {
		if werr := met.WriteFile(s.MetricsFile); werr != nil {
			log.Warn("metrics not written", "path", s.MetricsFile, "err", werr)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return runtimeErr(err)
	}
	log.Info("done",
		"files", res.Files,
		"distinct", res.Distinct,
		"intersection", res.Intersection,
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
