package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antoniostano/steady/internal/app"
	"github.com/antoniostano/steady/internal/config"
	"github.com/antoniostano/steady/internal/logging"
	"github.com/antoniostano/steady/internal/observability"
	"github.com/antoniostano/steady/internal/policy"
)

var assessCmd = &cobra.Command{
	Use:   "assess [text...]",
	Short: "Classify the risk level of a message and print the assessment as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAssess,
}

func runAssess(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	classifier, closeFn := app.NewRiskClassifier(cfg, policy.Default(), observability.NewMetrics(cfg.MetricsNamespace, nil), logger)
	defer func() { _ = closeFn() }()

	assessment := classifier.Assess(cmd.Context(), strings.Join(args, " "))
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(assessment)
}
