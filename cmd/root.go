package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "apiaccess",
	Short: "API access gate microservice",
	Long:  `A microservice that gates HTTP requests behind API-key credentials with per-key domain restrictions and a sanitized audit trail.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
