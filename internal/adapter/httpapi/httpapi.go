// Package httpapi отдаёт состояние мониторинга по HTTP: health, метрики Prometheus
// и решения по задачам.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cronradar/internal/monitor"
)

// Source отдаёт текущее состояние мониторинга
type Source interface {
	Evaluations() []monitor.Evaluation
	Applied() bool
}

// MonitorView JSON-представление решения по задаче
type MonitorView struct {
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	Schedule    string `json:"schedule"`
	Key         string `json:"key,omitempty"`
	Monitored   bool   `json:"monitored"`
	Skip        bool   `json:"skip"`
	Reason      string `json:"reason"`
	GracePeriod int    `json:"grace_period,omitempty"`
	LastExit    *int   `json:"last_exit_code,omitempty"`
}

// NewRouter создаёт gin-роутер. gatherer по умолчанию prometheus.DefaultGatherer.
func NewRouter(src Source, gatherer prometheus.Gatherer, log *slog.Logger) *gin.Engine {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "applied": src.Applied()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/monitors", func(c *gin.Context) {
		evals := src.Evaluations()
		out := make([]MonitorView, 0, len(evals))
		for _, ev := range evals {
			if c.Query("monitored") == "true" && !ev.Decision.Monitored {
				continue
			}
			out = append(out, view(ev))
		}
		c.JSON(http.StatusOK, out)
	})
	r.GET("/monitors/:key", func(c *gin.Context) {
		key := c.Param("key")
		for _, ev := range src.Evaluations() {
			if ev.Decision.Monitored && ev.Decision.Key == key {
				c.JSON(http.StatusOK, view(ev))
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "monitor not found"})
	})
	return r
}

func view(ev monitor.Evaluation) MonitorView {
	return MonitorView{
		TaskID:      ev.Task.ID,
		Name:        ev.Task.Name(),
		Schedule:    ev.Task.Schedule,
		Key:         ev.Decision.Key,
		Monitored:   ev.Decision.Monitored,
		Skip:        ev.Decision.Skip,
		Reason:      string(ev.Decision.Reason),
		GracePeriod: int(ev.Decision.GracePeriod / time.Second),
		LastExit:    ev.Task.ExitCode,
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"dur", time.Since(start))
	}
}

// Server HTTP-сервер с корректной остановкой
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer создаёт сервер на addr
func NewServer(addr string, h http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second},
		log: log.With("component", "http"),
	}
}

// Start запускает сервер в фоне
func (s *Server) Start() {
	go func() {
		s.log.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()
}

// Shutdown останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
