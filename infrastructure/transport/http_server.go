package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"legal-snippets/domain"
)

// toolInfo is the listing shape of GET /v1/tools.
type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// NewHTTPHandler exposes the tool repository as a small JSON API.
func NewHTTPHandler(repo domain.ToolRepository, logger *slog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.GET("/tools", func(c *gin.Context) {
		tools := repo.GetAllTools()
		out := make([]toolInfo, 0, len(tools))
		for _, t := range tools {
			out = append(out, toolInfo{Name: t.Name, Description: t.Description, InputSchema: t.RawSchema})
		}
		c.JSON(http.StatusOK, out)
	})
	v1.POST("/tools/:name", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := repo.InvokeTool(c.Request.Context(), c.Param("name"), body)
		switch {
		case errors.Is(err, domain.ErrToolNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case json.Valid([]byte(result)):
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(result))
		default:
			c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(result))
		}
	})
	v1.GET("/resources/schema", func(c *gin.Context) {
		resources := repo.GetAllResources()
		if len(resources) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no schema resource"})
			return
		}
		text, err := resources[0].Read(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("X-Resource-URI", resources[0].URI)
		c.String(http.StatusOK, text)
	})
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// ServeHTTP listens on addr until ctx is cancelled, then shuts down gracefully.
func ServeHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving HTTP", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
