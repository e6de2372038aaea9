// Package httpdebug exposes the operator command surface
// (internal/sbn/operator) and the housekeeping snapshot cache
// (internal/sbn/housekeeping) over a small gin router, per spec.md §6's
// description of a debug/operator front end layered over the same
// engine state the spacecraft bus protocol itself never touches.
package httpdebug

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sbn-project/sbn/internal/sbn/housekeeping"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/operator"
)

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
)

// Config configures the debug HTTP listener.
type Config struct {
	Bind string
	Port int

	// AllowedOrigins is the CORS allow-list for browser-based operator
	// dashboards. Empty means no cross-origin requests are permitted.
	AllowedOrigins []string

	// PProfEnabled registers net/http/pprof's profiling endpoints under
	// /debug/pprof on this same router, rather than a separate listener.
	PProfEnabled bool

	// TracingEnabled wraps every route with otelgin's span middleware,
	// matching the ambient tracing setup cmd/root.go wires for the rest
	// of the process when an OTLP endpoint is configured.
	TracingEnabled bool
}

// Server is the bound debug HTTP surface.
type Server struct {
	httpServer *http.Server
}

// CreateRouter builds the gin router alone, independent of the listener
// it will eventually be bound to, so tests can drive it with
// httptest.NewRecorder without opening a socket.
func CreateRouter(ops *operator.Commands, hk *housekeeping.Publisher, cfg Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("sbn-debug"))
	}

	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		router.Use(cors.New(corsConfig))
	}

	if cfg.PProfEnabled {
		pprof.Register(router)
	}

	router.GET("/debug/tables", func(c *gin.Context) {
		c.JSON(http.StatusOK, ops.DumpTables())
	})

	router.POST("/debug/peers/:id/reset", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid processor id"})
			return
		}
		if err := ops.ResetPeer(ids.ProcessorId(id)); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.POST("/debug/peers/reset-all", func(c *gin.Context) {
		errs := ops.ResetAll()
		if len(errs) > 0 {
			messages := make([]string, 0, len(errs))
			for _, err := range errs {
				messages = append(messages, err.Error())
			}
			c.JSON(http.StatusMultiStatus, gin.H{"errors": messages})
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.GET("/debug/snapshot", func(c *gin.Context) {
		raw, err := hk.Latest(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	})

	return router
}

// New builds a Server delegating operator commands to ops and serving
// hk's cached housekeeping snapshot.
func New(cfg Config, ops *operator.Commands, hk *housekeeping.Publisher) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
			Handler:           CreateRouter(ops, hk, cfg),
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      writeTimeout,
		},
	}
}

// Run blocks serving the debug HTTP surface until it is shut down or
// fails to bind.
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("debug http server on %s: %w", s.httpServer.Addr, err)
	}
	return nil
}

// Shutdown gracefully stops the debug HTTP surface.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
