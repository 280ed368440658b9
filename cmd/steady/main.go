package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/antoniostano/steady/internal/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "steady",
	Short: "Steady - a safety-aware conversational coaching backend",
	Long: `Steady serves coaching conversations with per-message risk assessment,
long-term session memory, model A/B experiments and response filtering.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return config.LoadEnvFile(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	rootCmd.AddCommand(serveCmd, assessCmd, replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
