package api

import (
	"errors"
	"log/slog"
	"net/http"

	"uploadsim/internal/upload"

	"github.com/gin-gonic/gin"
)

const defaultMaxUploadMemory = 32 << 20

// Options configures the HTTP surface.
type Options struct {
	// Limiter guards the intake route. Nil disables rate limiting.
	Limiter         gin.HandlerFunc
	MaxUploadMemory int64
}

// Server exposes an upload machine over HTTP and websockets.
type Server struct {
	machine   *upload.Machine
	conns     *ConnectionManager
	log       *slog.Logger
	limiter   gin.HandlerFunc
	maxMemory int64
}

func NewServer(machine *upload.Machine, log *slog.Logger, opts Options) *Server {
	if opts.MaxUploadMemory <= 0 {
		opts.MaxUploadMemory = defaultMaxUploadMemory
	}
	return &Server{
		machine:   machine,
		conns:     NewConnectionManager(log),
		log:       log,
		limiter:   opts.Limiter,
		maxMemory: opts.MaxUploadMemory,
	}
}

func SetupRoutes(r *gin.Engine, s *Server) {
	r.Use(corsMiddleware())
	r.GET("/health", healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"message": "Upload Simulator API",
				"version": "1.0.0",
				"service": "Simulated File Upload",
			})
		})

		intake := []gin.HandlerFunc{s.acceptHandler}
		if s.limiter != nil {
			intake = append([]gin.HandlerFunc{s.limiter}, intake...)
		}

		uploads := v1.Group("/uploads")
		{
			uploads.POST("", intake...)
			uploads.GET("", s.listHandler)
			uploads.DELETE("", s.resetHandler)
			uploads.GET("/:id", s.getHandler)
			uploads.POST("/:id/cancel", s.cancelHandler)
			uploads.POST("/:id/retry", s.retryHandler)
		}

		ws := v1.Group("/ws")
		{
			ws.GET("", s.wsHandler)
			ws.GET("/:id", s.wsHandler)
		}
	}

	files := r.Group("/api/files")
	{
		// Catch-all so names containing "/" resolve once the path is unescaped.
		files.GET("/*name", s.fileDetailsHandler)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "Upload Simulator API",
	})
}

// writeError maps machine errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, upload.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, upload.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, upload.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, upload.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
