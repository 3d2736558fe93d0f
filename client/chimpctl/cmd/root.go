package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	servingURL string
	token      string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "chimpctl",
	Short:         "A CLI client for the Chimp training and serving services",
	Long:          `A command-line interface for listing work units, starting and polling training tasks, managing datasets and models, and running inference.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CHIMP_SERVER", "http://localhost:5253"), "training service base URL")
	rootCmd.PersistentFlags().StringVar(&servingURL, "serving", envOr("CHIMP_SERVING", "http://localhost:5254"), "serving service base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CHIMP_TOKEN"), "bearer token for authenticated deployments")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
}
