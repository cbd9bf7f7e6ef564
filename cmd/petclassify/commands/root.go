package commands

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/petclassify/internal/features"
	"github.com/example/petclassify/internal/imagesource"
	"github.com/example/petclassify/internal/logging"
)

var (
	logLevel    string
	httpTimeout time.Duration
	maxBytes    int64
	maxPixels   int64
	asJSON      bool

	loader *imagesource.Loader
	logger *zap.Logger
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "petclassify",
		Short:        "Guess whether images show a cat or a dog",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.NewLogger(logLevel)
			if err != nil {
				return err
			}
			logger = l

			loader = imagesource.New()
			loader.HTTP.Timeout = httpTimeout
			loader.MaxBytes = maxBytes
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&httpTimeout, "http-timeout", 30*time.Second, "timeout for fetching image URLs")
	root.PersistentFlags().Int64Var(&maxBytes, "max-bytes", imagesource.DefaultMaxBytes, "largest image accepted, in bytes")
	root.PersistentFlags().Int64Var(&maxPixels, "max-pixels", features.DefaultMaxPixels, "largest image accepted, in pixels")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(classifyCmd(), featuresCmd(), tokenCmd())
	return root
}
