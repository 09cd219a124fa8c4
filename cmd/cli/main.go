package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perfeye/internal/api/client"
)

var apiClient *client.Client

var rootCmd = &cobra.Command{
	Use:   "perfeye",
	Short: "PerfEye CLI - a performance monitoring tool",
	Long: `PerfEye CLI is a command-line tool for the PerfEye monitoring backend.
It manages evaluation rules, inspects alerts and ingests metric samples.`,
}

func main() {
	var serverURL string
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API server URL (default $PERFEYE_API_URL or http://localhost:8080)")
	cobra.OnInitialize(func() {
		apiClient = client.New(serverURL)
	})

	rootCmd.AddCommand(newRuleCommand())
	rootCmd.AddCommand(newAlertsCommand())
	rootCmd.AddCommand(newIngestCommand())
	rootCmd.AddCommand(newSamplesCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
