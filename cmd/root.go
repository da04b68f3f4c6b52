// Package cmd holds the CLI entrypoints.
package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/docyard/docyard/common"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docyard",
	Short: "Document ingestion pipeline",
	Long: "docyard normalizes uploaded documents into page-bounded PDFs, " +
		"deduplicates them per group and forwards the artifacts to GX for indexing.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

// loadConfig reads, validates and applies the configuration including the
// process-wide logger.
func loadConfig() (*common.Config, error) {
	cfg, err := common.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	common.SetupLogging(cfg)
	return cfg, nil
}
