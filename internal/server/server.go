// Package server exposes the HealthScan HTTP surface: the form page, X-ray
// analysis, report generation and the patient list.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthscan/healthscan/internal/config"
	"github.com/healthscan/healthscan/internal/model"
	"github.com/healthscan/healthscan/internal/signing"
)

//go:embed web/index.html
var webFS embed.FS

// PatientStore persists analyzed patients. Implemented by
// repository.PatientRepository and storage.MemoryStore.
type PatientStore interface {
	Create(ctx context.Context, rec *model.PatientRecord) error
	ListAll(ctx context.Context) ([]model.PatientRecord, error)
}

// Diagnoser labels a stored X-ray.
type Diagnoser interface {
	Diagnose(ctx context.Context, path string) (model.Diagnosis, error)
}

// ReportGenerator produces the sanitized narrative report.
type ReportGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// Archiver schedules copies of uploads and reports to object storage.
type Archiver interface {
	ArchiveXray(ctx context.Context, rec model.PatientRecord) error
	ArchiveReport(ctx context.Context, report string) error
}

// Deps are the process-wide collaborators built once at startup. Archiver may
// be nil.
type Deps struct {
	Store     PatientStore
	Diagnoser Diagnoser
	Reports   ReportGenerator
	Archiver  Archiver
	Signer    *signing.Signer
	Logger    zerolog.Logger
}

// Server hosts the HTTP handlers.
type Server struct {
	cfg       *config.Config
	store     PatientStore
	diagnoser Diagnoser
	reports   ReportGenerator
	archiver  Archiver
	signer    *signing.Signer
	log       zerolog.Logger
	uploadDir string
	indexHTML []byte
	now       func() time.Time
	engine    *gin.Engine
}

// New creates a configured server and makes sure the upload directory exists.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Diagnoser == nil || deps.Reports == nil || deps.Signer == nil {
		return nil, errors.New("server: store, diagnoser, reports and signer are required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	page, err := webFS.ReadFile("web/index.html")
	if err != nil {
		return nil, fmt.Errorf("read form page: %w", err)
	}
	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		diagnoser: deps.Diagnoser,
		reports:   deps.Reports,
		archiver:  deps.Archiver,
		signer:    deps.Signer,
		log:       deps.Logger.With().Str("component", "http").Logger(),
		uploadDir: cfg.UploadDir,
		indexHTML: page,
		now:       time.Now,
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{Handler: s.engine}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(
		requestLogger(s.log),
		gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
			s.log.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("handler panicked")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgUnexpected})
		}),
		limitBodySize(s.cfg.MaxUploadBytes),
		cors.New(cors.Config{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}),
	)

	router.GET("/", s.handleIndex)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/analyze", s.handleAnalyze)
	router.POST("/generate_report", s.handleGenerateReport)
	router.GET("/patients", s.handlePatients)
	router.GET("/uploads/:name", s.handleUpload)
	return router
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Warn()
		}
		evt.Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// limitBodySize caps the request body; uploads larger than the limit fail
// while the multipart form is parsed.
func limitBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
