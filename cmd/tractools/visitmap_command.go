package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tractools/pkg/visitmap"
)

func newVisitMapCommand(ctx *commandContext) *cobra.Command {
	var logScale, normalize, binary, unique bool
	var previewDir string

	cmd := &cobra.Command{
		Use:   "visit-map REFERENCE STREAMLINES OUTFILE",
		Short: "Count streamline points per voxel of a reference volume",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := visitmap.Options{
				ReferenceFile:   args[0],
				StreamlinesFile: args[1],
				OutputFile:      args[2],
				Mode:            visitmap.SelectMode(logScale, normalize, binary),
				Unique:          unique,
				PreviewDir:      previewDir,
			}
			res, err := visitmap.Generate(opts, ctx.logger(cmd, "visitmap"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderVisitMapTable(res))
			return nil
		},
	}

	cmd.Flags().BoolVar(&logScale, "log", false, "Store log(count+1) scaled to [0, 1]")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Divide counts by the largest count")
	cmd.Flags().BoolVar(&binary, "binary", false, "Store 1 for visited voxels and 0 elsewhere")
	cmd.Flags().BoolVar(&unique, "unique", false, "Count each streamline at most once per voxel")
	cmd.Flags().StringVar(&previewDir, "preview-dir", "", "Write JPEG slices of the map to this directory")
	cmd.MarkFlagsMutuallyExclusive("log", "normalize", "binary")
	return cmd
}
