// Package api exposes the HTTP surface: job intake and upload negotiation,
// processing triggers, status reads and the admin endpoints.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/docyard/docyard/common"
	"github.com/docyard/docyard/db"
	"github.com/docyard/docyard/jobs"
	"github.com/docyard/docyard/metrics"
	"github.com/docyard/docyard/queue"
	"github.com/docyard/docyard/storage"
)

// Server binds the orchestrator to HTTP routes.
type Server struct {
	engine *gin.Engine
	orch   *jobs.Orchestrator
	pool   *pgxpool.Pool
	zipQ   *queue.Sender
	fileQ  *queue.Sender
}

func NewServer(orch *jobs.Orchestrator, pool *pgxpool.Pool, zipQ, fileQ *queue.Sender, cfg *common.Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	if len(cfg.Cors.AllowedOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.Cors.AllowedOrigins
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		engine.Use(cors.New(corsCfg))
	}

	s := &Server{engine: engine, orch: orch, pool: pool, zipQ: zipQ, fileQ: fileQ}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/api/v1")
	v1.POST("/buckets", s.createBucket)
	v1.POST("/jobs", s.createJob)
	v1.GET("/jobs/:id", s.getJob)
	v1.GET("/jobs/:id/documents", s.getDocuments)
	v1.POST("/jobs/:id/process", s.triggerProcessing)
	v1.POST("/jobs/:id/uploads", s.initiateMultipart)
	v1.GET("/jobs/:id/uploads/:uploadId/parts/:partNumber", s.presignPart)
	v1.POST("/jobs/:id/uploads/:uploadId/complete", s.completeMultipart)
	v1.POST("/admin/terminate", s.terminate)
}

// Handler exposes the router for the serve command and for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) health(c *gin.Context) {
	if err := s.pool.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createJob(c *gin.Context) {
	var req jobs.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	created, err := s.orch.CreateJob(c.Request.Context(), req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.orch.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            job.ID,
		"fileName":      job.OriginalFilename,
		"status":        job.Status,
		"currentStage":  job.CurrentStage,
		"errorMessage":  job.ErrorMessage,
		"gxBucketId":    job.GxBucketID,
		"skipGxProcess": job.SkipGxProcess,
		"createdAt":     job.CreatedAt,
		"updatedAt":     job.UpdatedAt,
	})
}

func (s *Server) getDocuments(c *gin.Context) {
	docs, err := s.orch.Documents(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	out := make([]gin.H, 0, len(docs))
	for _, d := range docs {
		out = append(out, gin.H{
			"fileName":     d.FileName,
			"source":       d.Source,
			"status":       d.DisplayStatus,
			"errorMessage": d.ErrorMessage,
			"updatedAt":    d.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

func (s *Server) triggerProcessing(c *gin.Context) {
	job, err := s.orch.TriggerProcessing(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": job.ID, "status": job.Status, "currentStage": job.CurrentStage})
}

func (s *Server) initiateMultipart(c *gin.Context) {
	uploadID, err := s.orch.InitiateMultipart(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uploadId": uploadID})
}

func (s *Server) presignPart(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("partNumber"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid part number"})
		return
	}
	url, err := s.orch.PresignPart(c.Request.Context(), c.Param("id"), c.Param("uploadId"), n)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "partNumber": n})
}

func (s *Server) completeMultipart(c *gin.Context) {
	var req struct {
		Parts []storage.Part `json:"parts"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.orch.CompleteMultipart(c.Request.Context(), c.Param("id"), c.Param("uploadId"), req.Parts); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "uploaded"})
}

func (s *Server) createBucket(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	bucketID, err := s.orch.CreateBucket(c.Request.Context(), req.Name)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bucketId": bucketID})
}

func (s *Server) terminate(c *gin.Context) {
	report, err := jobs.Terminate(c.Request.Context(), s.pool, s.zipQ, s.fileQ)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// abortWith maps the error taxonomy to HTTP: validation to 400, unknown rows
// to 404, everything else to 500.
func abortWith(c *gin.Context, err error) {
	switch {
	case common.KindOf(err) == common.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": common.Reason(err)})
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		entry := log.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request")
			return
		}
		entry.Debug("request")
	}
}
