package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/petclassify/internal/classifier"
	"github.com/example/petclassify/internal/grpcclient"
	"github.com/example/petclassify/internal/imageprocessor"
)

type classifyOutcome struct {
	Ref    string                 `json:"ref"`
	Result *imageprocessor.Result `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

func classifyCmd() *cobra.Command {
	var (
		remote      string
		token       string
		seed        uint64
		concurrency int
		fallback    bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "classify [image]...",
		Short: "Classify images as cat or dog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var client imageprocessor.Client
			if remote != "" {
				c, conn, err := grpcclient.DialClassifier(ctx, remote, token, logger)
				if err != nil {
					return err
				}
				defer conn.Close()
				client = c
			} else {
				var src classifier.Source
				if cmd.Flags().Changed("seed") {
					src = classifier.NewSeededSource(seed)
				}
				local := imageprocessor.NewLocal(src, fallback)
				local.MaxPixels = maxPixels
				client = local
			}

			outcomes := classifyAll(ctx, client, args, concurrency)

			failed := 0
			for _, o := range outcomes {
				if o.Error != "" {
					failed++
				}
			}
			if err := printOutcomes(cmd.OutOrStdout(), outcomes); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "gRPC address of a classifier host (default: classify in process)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for --remote")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed the random adjustment for reproducible output")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "images classified at once")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "guess randomly when an image cannot be decoded")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline (0 disables)")
	return cmd
}

// classifyAll classifies refs with at most limit in flight. Outcomes keep
// the order of refs; a failed ref does not stop the others.
func classifyAll(ctx context.Context, client imageprocessor.Client, refs []string, limit int) []classifyOutcome {
	if limit < 1 {
		limit = 1
	}
	outcomes := make([]classifyOutcome, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			outcomes[i] = classifyOne(gctx, client, ref)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func classifyOne(ctx context.Context, client imageprocessor.Client, ref string) classifyOutcome {
	data, err := loader.Load(ctx, ref)
	if err != nil {
		logger.Warn("failed to load image", zap.String("ref", ref), zap.Error(err))
		return classifyOutcome{Ref: ref, Error: err.Error()}
	}
	result, err := client.Classify(ctx, data)
	if err != nil {
		logger.Warn("failed to classify image", zap.String("ref", ref), zap.Error(err))
		return classifyOutcome{Ref: ref, Error: err.Error()}
	}
	if result.Fallback {
		logger.Warn("image could not be decoded, showing a random guess", zap.String("ref", ref))
	}
	return classifyOutcome{Ref: ref, Result: result}
}

func printOutcomes(w io.Writer, outcomes []classifyOutcome) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	}
	for _, o := range outcomes {
		if o.Error != "" {
			fmt.Fprintf(w, "%s: error: %s\n", o.Ref, o.Error)
			continue
		}
		r := o.Result
		line := fmt.Sprintf("%s: %s (confidence %.1f%%, %.0fms)", o.Ref, r.Prediction, r.Confidence*100, r.ProcessingTimeMs)
		if r.Fallback {
			line += " [fallback]"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
