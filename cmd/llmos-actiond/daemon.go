package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/llmos-dev/llmos-actions/internal/api"
	"github.com/llmos-dev/llmos-actions/internal/bus"
	"github.com/llmos-dev/llmos-actions/internal/config"
	"github.com/llmos-dev/llmos-actions/internal/engine"
	"github.com/llmos-dev/llmos-actions/internal/history"
	"github.com/llmos-dev/llmos-actions/internal/history/sqlite"
	"github.com/llmos-dev/llmos-actions/internal/metrics"
	"github.com/llmos-dev/llmos-actions/internal/server"
	"github.com/llmos-dev/llmos-actions/internal/vault"
	"github.com/llmos-dev/llmos-actions/pkg/sdk"
)

// daemon is the composition root: one registry shared by every transport
// and observer for the lifetime of the process.
type daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	registry *engine.Registry
	archiver *engine.Archiver
	history  *sqlite.Sink
	recorder *history.Recorder
	bus      *bus.Bus
	router   *server.Router
	http     *http.Server

	unsubscribe []func()
}

func newDaemon(cfg *config.Config, logger *zap.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	// 1. Archive for records trimmed from the live log
	if cfg.Archive.Enabled {
		archiver, err := engine.NewArchiver(cfg.Archive.Dir, logger.Named("archive"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		d.archiver = archiver
	}

	// 2. The registry itself
	d.registry = engine.NewRegistry(
		engine.WithLogger(logger.Named("registry")),
		engine.WithArchiver(d.archiver),
	)

	// 3. Observers
	if cfg.History.DSN != "" {
		sink, err := sqlite.New(cfg.History.DSN)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		d.history = sink
		d.recorder = history.NewRecorder(sink, logger.Named("history"))
		d.unsubscribe = append(d.unsubscribe, d.registry.Subscribe(d.recorder.Observe))
	}
	if cfg.Bus.NATSURL != "" {
		b, err := bus.New(cfg.Bus.NATSURL, nats.Name("llmos-actiond"))
		if err != nil {
			d.close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		d.bus = b
		d.unsubscribe = append(d.unsubscribe, d.registry.Subscribe(b.Forwarder(cfg.Bus.SubjectPrefix, logger.Named("bus"))))
	}

	// 4. TCP decision protocol
	d.router = server.NewRouter(&sdk.Local{Registry: d.registry, DefaultLevel: cfg.Autonomy.Level()}, logger.Named("tcp"))
	if !cfg.Server.DisableTLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			d.close()
			return nil, fmt.Errorf("failed to generate TLS certificate: %w", err)
		}
		d.router.SetCertificate(cert)
	}

	// 5. HTTP API
	d.http = &http.Server{
		Addr:              cfg.Server.HTTPAddr(),
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

func (d *daemon) routes() *gin.Engine {
	if !d.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.logger.Named("http")))

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h := &api.Handler{
		Registry:     d.registry,
		Archiver:     d.archiver,
		DefaultLevel: d.cfg.Autonomy.Level(),
		Logger:       d.logger.Named("api"),
	}
	h.Register(r)

	if d.cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "actions": d.registry.Len()})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// run serves until ctx is cancelled or a listener fails, then shuts down.
func (d *daemon) run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		d.logger.Info("tcp listening", zap.String("port", d.cfg.Server.TCPAddr()), zap.Bool("tls", !d.cfg.Server.DisableTLS))
		if err := d.router.Listen(d.cfg.Server.TCPAddr()); err != nil {
			errCh <- fmt.Errorf("tcp server: %w", err)
		}
	}()
	go func() {
		d.logger.Info("http listening", zap.String("addr", d.http.Addr))
		if err := d.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	retentionCtx, cancelRetention := context.WithCancel(ctx)
	defer cancelRetention()
	if d.cfg.Retention.KeepLast > 0 {
		go engine.RunRetention(retentionCtx, d.registry, d.cfg.Retention.KeepLast, d.cfg.Retention.Interval)
	}

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		d.logger.Error("listener failed", zap.Error(runErr))
	}
	cancelRetention()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout())
	defer cancel()
	if err := d.http.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := d.router.Stop(); err != nil {
		d.logger.Warn("tcp shutdown", zap.Error(err))
	}
	d.close()
	d.logger.Info("shutdown complete")
	return runErr
}

func (d *daemon) shutdownTimeout() time.Duration {
	if d.cfg.Server.ShutdownTimeout > 0 {
		return d.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// close detaches observers and flushes every sink. Safe on a partially built daemon.
func (d *daemon) close() {
	for _, unsub := range d.unsubscribe {
		unsub()
	}
	d.unsubscribe = nil
	if d.recorder != nil {
		d.recorder.Close()
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Warn("history close", zap.Error(err))
		}
	}
	d.bus.Close()
	if d.registry != nil {
		d.registry.Wait()
	}
}
