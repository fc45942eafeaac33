package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinoosan/fintrack/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "fintrack",
		Short:         "Personal finance tracker API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (config.Config, error) { return config.Load(configPath) }

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newCreateUserCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

type loadFunc func() (config.Config, error)
