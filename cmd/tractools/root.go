package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWithContext(&commandContext{})
}

func newRootCommandWithContext(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tractools",
		Short:         "Diffusion MRI model fitting and parallel tractography",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path (default ./tractools.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newTractographyCommand(ctx))
	rootCmd.AddCommand(newVisitMapCommand(ctx))
	rootCmd.AddCommand(newCSDCommand(ctx))
	rootCmd.AddCommand(newCSDSHMCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
