package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/apiclient"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/bus"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/config"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/db"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/export"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/stream"
)

const (
	shutdownTimeout    = 5 * time.Second
	socketPerms        = 0o660
	runDirPerms        = 0o750
	maxBackoffExponent = 5
)

// Service wires the telemetry session to the local control socket and the
// optional metrics listener.
type Service struct {
	cfg             config.Config
	store           *db.Store
	session         *Session
	embedded        *bus.EmbeddedNats
	external        *bus.NatsTransport
	unixListener    net.Listener
	metricsListener net.Listener
	unixServer      *http.Server
	metricsServer   *http.Server
	logger          *log.Logger
}

// Run opens the store, binds listeners, and serves until ctx is canceled.
func Run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.Default()
	if warning, err := config.CheckConfigPermissions(cfg.ConfigPath); err == nil && warning != "" {
		logger.Printf("vexdashd: %s", warning)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	service, err := NewService(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	logger.Printf("vexdashd: buffer=%d upstream=%s broadcast=%s", cfg.BufferSize, upstreamOrNone(cfg), cfg.BroadcastMode)
	return service.Serve(ctx)
}

// NewService constructs the session and binds listeners. The session is
// started but the servers are not.
func NewService(ctx context.Context, cfg config.Config, store *db.Store, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := ensureDir(cfg.RunDir, runDirPerms); err != nil {
		return nil, err
	}
	recipients, err := export.ParseRecipients(cfg.ExportRecipients)
	if err != nil {
		return nil, err
	}

	svc := &Service{cfg: cfg, store: store, logger: logger}
	transport, err := svc.startBroadcast(ctx)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	opts := SessionOptions{
		Bus: bus.New(bus.Options{
			MaxEvents: cfg.BufferSize,
			Transport: transport,
			Logger:    logger,
		}),
		Store:              store,
		Metrics:            metrics,
		Logger:             logger,
		ReplayTick:         cfg.ReplayTick,
		HealthInterval:     cfg.HealthInterval,
		PlayerPollInterval: cfg.PlayerPollInterval,
		RemoteArchives:     cfg.RemoteArchives,
		SeedFiles:          cfg.SeedFiles,
	}
	if strings.TrimSpace(cfg.UpstreamURL) != "" {
		upstream, err := apiclient.New(cfg.UpstreamURL, cfg.UpstreamTimeout)
		if err != nil {
			svc.stopBroadcast()
			return nil, err
		}
		opts.Upstream = upstream
		if cfg.StreamEnabled {
			opts.Stream = &StreamSettings{
				Backoff: stream.Backoff{
					Base:        cfg.ReconnectBase,
					Max:         cfg.ReconnectMax,
					MaxExponent: maxBackoffExponent,
					Jitter:      cfg.ReconnectJitter,
				},
				Heartbeat:  cfg.HeartbeatInterval,
				StaleAfter: cfg.StaleAfter,
			}
		}
	}
	session, err := NewSession(opts)
	if err != nil {
		svc.stopBroadcast()
		return nil, err
	}
	svc.session = session

	unixListener, err := listenUnix(cfg.SocketPath)
	if err != nil {
		svc.stopBroadcast()
		return nil, err
	}
	svc.unixListener = unixListener

	metricsEnabled := strings.TrimSpace(cfg.MetricsListen) != ""
	if metricsEnabled {
		listener, err := net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			_ = unixListener.Close()
			svc.stopBroadcast()
			return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsListen, err)
		}
		metricsMux := http.NewServeMux()
		metricsMux.HandleFunc("/healthz", healthHandler)
		metricsMux.Handle("/metrics", metrics.Handler())
		svc.metricsListener = listener
		svc.metricsServer = &http.Server{
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
	}

	localMux := http.NewServeMux()
	localMux.HandleFunc("/healthz", healthHandler)
	NewControlAPI(session, logger).
		WithMetricsEnabled(metricsEnabled).
		WithExportRecipients(recipients).
		Register(localMux)
	svc.unixServer = &http.Server{
		Handler:           localMux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	if err := session.Start(ctx); err != nil {
		svc.closeListeners()
		svc.stopBroadcast()
		return nil, err
	}
	return svc, nil
}

// Session exposes the running session.
func (s *Service) Session() *Session {
	if s == nil {
		return nil
	}
	return s.session
}

// Serve blocks until shutdown or a listener error occurs.
func (s *Service) Serve(ctx context.Context) error {
	s.logger.Printf("vexdashd: listening on unix=%s", s.cfg.SocketPath)
	servers := 1
	errCh := make(chan error, 2)
	go func() { errCh <- s.unixServer.Serve(s.unixListener) }()
	if s.metricsServer != nil {
		servers++
		s.logger.Printf("vexdashd: listening on metrics=%s", s.cfg.MetricsListen)
		go func() { errCh <- s.metricsServer.Serve(s.metricsListener) }()
	}

	remaining := servers
	var serveErr error

	select {
	case <-ctx.Done():
		// graceful shutdown
	case err := <-errCh:
		remaining--
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	s.shutdown()
	for i := 0; i < remaining; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = err
		}
	}

	_ = os.Remove(s.cfg.SocketPath)
	return serveErr
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.unixServer.Shutdown(ctx)
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(ctx)
	}
	s.session.Stop()
	s.stopBroadcast()
	if s.store != nil {
		_ = s.store.Close()
	}
}

// startBroadcast returns the cross-process transport for the configured
// broadcast mode, or nil for a process-local bus.
func (s *Service) startBroadcast(ctx context.Context) (bus.Transport, error) {
	switch s.cfg.BroadcastMode {
	case config.BroadcastEmbedded:
		embedded, err := bus.NewEmbeddedNats(
			bus.WithHost(s.cfg.BroadcastHost),
			bus.WithPort(s.cfg.BroadcastPort),
			bus.WithSubject(s.cfg.BroadcastSubject),
			bus.WithLogger(s.logger),
		)
		if err != nil {
			return nil, err
		}
		if err := embedded.Start(ctx); err != nil {
			return nil, err
		}
		s.embedded = embedded
		return embedded.Transport(), nil
	case config.BroadcastExternal:
		transport, err := bus.DialNats(s.cfg.BroadcastURL, s.cfg.BroadcastSubject)
		if err != nil {
			return nil, err
		}
		s.external = transport
		s.logger.Printf("vexdashd: broadcasting on %s subject=%s", s.cfg.BroadcastURL, s.cfg.BroadcastSubject)
		return transport, nil
	default:
		return nil, nil
	}
}

func (s *Service) stopBroadcast() {
	if s.external != nil {
		s.external.Close()
	}
	if s.embedded != nil {
		s.embedded.Stop()
	}
}

func (s *Service) closeListeners() {
	if s.unixListener != nil {
		_ = s.unixListener.Close()
		_ = os.Remove(s.cfg.SocketPath)
	}
	if s.metricsListener != nil {
		_ = s.metricsListener.Close()
	}
}

func upstreamOrNone(cfg config.Config) string {
	if strings.TrimSpace(cfg.UpstreamURL) == "" {
		return "none"
	}
	return cfg.UpstreamURL
}

func ensureDir(path string, perms os.FileMode) error {
	if path == "" {
		return errors.New("run_dir is required")
	}
	if err := os.MkdirAll(path, perms); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

func listenUnix(socketPath string) (net.Listener, error) {
	if socketPath == "" {
		return nil, errors.New("socket_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), runDirPerms); err != nil {
		return nil, fmt.Errorf("create socket dir %s: %w", filepath.Dir(socketPath), err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, socketPerms); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket %s: %w", socketPath, err)
	}
	return listener, nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
