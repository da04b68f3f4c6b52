// Package metrics holds the service's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docyard_jobs_created_total",
		Help: "Processing jobs accepted at intake.",
	})

	FilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docyard_files_processed_total",
		Help: "FileMaster rows settled by the file worker, by outcome.",
	}, []string{"outcome"})

	GxUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docyard_gx_uploads_total",
		Help: "Artifact uploads handed to GX, by outcome.",
	}, []string{"outcome"})

	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docyard_queue_messages_total",
		Help: "Messages published to the work queues, by queue.",
	}, []string{"queue"})
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
