package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusServer exposes health, session-registry status, and prometheus
// metrics over HTTP. Source returns the JSON snapshot served on /status.
//
// Source runs on handler goroutines. When it reads state owned by
// another goroutine, the owner must call Shutdown before mutating that
// state; Shutdown waits for in-flight handlers to finish.
type StatusServer struct {
	Addr        string
	CorsOrigins []string
	Source      func() any

	appeared time.Time

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func (s *StatusServer) Router() *gin.Engine {
	if s.appeared.IsZero() {
		s.appeared = time.Now()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log.Logger))
	router.Use(RequestMetricsMiddleware())
	if len(s.CorsOrigins) > 0 {
		cfg := cors.DefaultConfig()
		cfg.AllowOrigins = s.CorsOrigins
		router.Use(cors.New(cfg))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"component": "enginectl",
		})
	})
	router.GET("/status", func(c *gin.Context) {
		if s.Source == nil {
			c.JSON(http.StatusOK, gin.H{"sessions": []any{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": s.Source()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// Run serves until Shutdown. A Shutdown-initiated stop is a clean exit,
// not an error.
func (s *StatusServer) Run() error {
	RegisterMetrics()
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Router()}
	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight handlers to
// drain. Safe to call before Run; that is a no-op.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// BoundAddr reports the listen address once Run has bound it.
func (s *StatusServer) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
