package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docyard/docyard/api"
	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/gx"
	"github.com/docyard/docyard/handlers"
	"github.com/docyard/docyard/jobs"
	"github.com/docyard/docyard/pipeline"
	"github.com/docyard/docyard/queue"
	"github.com/docyard/docyard/runner"
	"github.com/docyard/docyard/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, queue consumers and schedulers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	objects, err := storage.NewService(cfg)
	if err != nil {
		return err
	}
	uploader := storage.NewUploader(objects, cfg.Storage.UploadWorkers)

	qapi, err := queue.NewAPI(ctx, cfg)
	if err != nil {
		return err
	}
	zipQ := queue.NewSender(qapi, "zip", cfg.Queue.ZipQueueURL)
	fileQ := queue.NewSender(qapi, "file", cfg.Queue.FileQueueURL)

	run := runner.New()
	optimizer := handlers.NewOptimizer(cfg, run)
	registry := handlers.NewRegistry(
		handlers.WithRetry(handlers.NewZipHandler(cfg), cfg.ZipHandler.Retry),
		handlers.WithRetry(handlers.NewOfficeHandler(cfg, run), cfg.LibreOffice.Retry),
		handlers.WithRetry(handlers.NewMsgHandler(cfg, run), cfg.MsgHandler.Retry),
		handlers.WithRetry(handlers.NewPdfHandler(cfg, run, optimizer), cfg.Pdf.Qpdf.Retry),
	)

	gxClient := gx.NewClient(cfg)
	orch := jobs.NewOrchestrator(pool, objects, zipQ, fileQ, gxClient, registry, cfg)

	zipWorker := pipeline.NewZipWorker(pool, objects, uploader, fileQ, registry, cfg)
	fileWorker := pipeline.NewFileWorker(pool, objects, uploader, fileQ, registry, cfg)
	zipConsumer := queue.NewConsumer(qapi, cfg.Queue.ZipQueueURL, "zip", cfg.Queue.ZipConsumer, zipWorker.HandleMessage)
	fileConsumer := queue.NewConsumer(qapi, cfg.Queue.FileQueueURL, "file", cfg.Queue.FileConsumer, fileWorker.HandleMessage)

	scheduler := jobs.NewUploadScheduler(pool, objects, gxClient, cfg)
	reconciler := jobs.NewReconciler(pool, gxClient)
	crond := cron.New(cron.WithSeconds())
	if _, err := crond.AddFunc(cfg.Schedulers.GxDocUpload, cronRun(ctx, "gx-upload", scheduler.RunOnce)); err != nil {
		return err
	}
	if _, err := crond.AddFunc(cfg.Schedulers.Lifecycle, cronRun(ctx, "lifecycle", reconciler.RunOnce)); err != nil {
		return err
	}

	server := api.NewServer(orch, pool, zipQ, fileQ, cfg)
	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: server.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return zipConsumer.Run(gctx) })
	g.Go(func() error { return fileConsumer.Run(gctx) })
	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	crond.Start()

	err = g.Wait()

	cronCtx := crond.Stop()
	<-cronCtx.Done()
	uploader.Drain()
	log.Info("shutdown complete")
	return err
}

// cronRun adapts a RunOnce func to a cron job, skipping cycles once the
// process is shutting down.
func cronRun(ctx context.Context, name string, fn func(context.Context) error) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		if err := fn(ctx); err != nil {
			log.WithError(err).WithField("scheduler", name).Error("scheduler cycle failed")
		}
	}
}
