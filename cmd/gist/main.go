package main

import (
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:           "gist",
	Short:         "Share and fetch bettergist snippets",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	def := os.Getenv("BETTERGIST_URL")
	if def == "" {
		def = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "bettergist server URL (env BETTERGIST_URL)")
	rootCmd.AddCommand(shareCmd, getCmd)
}
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
