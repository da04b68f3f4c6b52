package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/jobs"
	"github.com/docyard/docyard/queue"
)

var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Stop all in-flight work: terminate every non-terminal row and purge the queues",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pool, err := db.Connect(cmd.Context(), cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		qapi, err := queue.NewAPI(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		zipQ := queue.NewSender(qapi, "zip", cfg.Queue.ZipQueueURL)
		fileQ := queue.NewSender(qapi, "file", cfg.Queue.FileQueueURL)

		report, err := jobs.Terminate(cmd.Context(), pool, zipQ, fileQ)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"jobs":    report.Jobs,
			"zips":    report.Zips,
			"files":   report.Files,
			"ingests": report.Ingests,
		}).Info("termination done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(terminateCmd)
}
