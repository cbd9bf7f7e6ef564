package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/petclassify/internal/features"
)

func featuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "features [image]",
		Short: "Print the features an image is scored on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := loader.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			f, err := features.ExtractLimited(cmd.Context(), bytes.NewReader(data), maxPixels)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(f)
			}

			colors := make([]string, len(f.DominantColors))
			for i, c := range f.DominantColors {
				colors[i] = string(c)
			}
			fmt.Fprintf(out, "aspect ratio:    %.3f\n", f.AspectRatio)
			fmt.Fprintf(out, "brightness:      %.1f\n", f.Brightness)
			fmt.Fprintf(out, "contrast:        %.1f\n", f.Contrast)
			fmt.Fprintf(out, "dominant colors: %s\n", strings.Join(colors, ", "))
			return nil
		},
	}
}
