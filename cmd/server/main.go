package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runMigrations is shared by the root command and serve.
var runMigrations bool

var rootCmd = &cobra.Command{
	Use:           "cidpos",
	Short:         "cidpos point-of-sale backend",
	Long:          "cidpos serves the point-of-sale HTTP API. Without a subcommand it runs serve.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().BoolVar(&runMigrations, "migrate", false, "apply pending migrations before serving")
	serveCmd.Flags().BoolVar(&runMigrations, "migrate", false, "apply pending migrations before serving")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(wipeCmd)
}
