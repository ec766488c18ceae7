package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sharetube/classroom/internal/audio"
	"github.com/sharetube/classroom/internal/backend"
	"github.com/sharetube/classroom/internal/controller"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/media"
	"github.com/sharetube/classroom/internal/peer"
	journalPostgres "github.com/sharetube/classroom/internal/repository/journal/postgres"
	journalRedis "github.com/sharetube/classroom/internal/repository/journal/redis"
	notifyNats "github.com/sharetube/classroom/internal/repository/notify/nats"
	"github.com/sharetube/classroom/internal/session"
	"github.com/sharetube/classroom/internal/transport"
	"github.com/sharetube/classroom/pkg/ctxlogger"
	"github.com/sharetube/classroom/pkg/natsclient"
	"github.com/sharetube/classroom/pkg/pgclient"
	"github.com/sharetube/classroom/pkg/redisclient"
)

type AppConfig struct {
	SessionID        int64         `json:"session_id"`
	UserID           int64         `json:"user_id"`
	Role             string        `json:"role"`
	DisplayName      string        `json:"display_name"`
	JoinOnStart      bool          `json:"join_on_start"`
	BackendURL       string        `json:"backend_url"`
	BackendTimeout   time.Duration `json:"backend_timeout"`
	Transport        string        `json:"transport"`
	ReconnectBackoff time.Duration `json:"reconnect_backoff"`
	ICEDebounce      time.Duration `json:"ice_debounce"`
	ICEServers       []string      `json:"ice_servers"`
	CaptureEnabled   bool          `json:"capture_enabled"`
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	LogLevel         string        `json:"log_level"`
	RedisHost        string        `json:"redis_host"`
	RedisPort        int           `json:"redis_port"`
	RedisPassword    string        `json:"-"`
	JournalMaxLen    int64         `json:"journal_max_len"`
	JournalTTL       time.Duration `json:"journal_ttl"`
	PostgresDSN      string        `json:"-"`
	NatsURL          string        `json:"nats_url"`
	NatsPrefix       string        `json:"nats_prefix"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.SessionID < 1 {
		return fmt.Errorf("session id must be greater than 0")
	}
	if cfg.UserID < 1 {
		return fmt.Errorf("user id must be greater than 0")
	}
	if !domain.Role(cfg.Role).Valid() {
		return fmt.Errorf("unknown role %q", cfg.Role)
	}
	switch transport.Kind(cfg.Transport) {
	case transport.KindWebSocket, transport.KindSSE:
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.BackendURL == "" {
		return fmt.Errorf("backend url is required")
	}
	if cfg.ReconnectBackoff <= 0 {
		return fmt.Errorf("reconnect backoff must be positive")
	}
	if cfg.ICEDebounce <= 0 {
		return fmt.Errorf("ice debounce must be positive")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	if cfg.RedisHost != "" && cfg.JournalTTL <= 0 {
		return fmt.Errorf("journal ttl must be positive")
	}

	return nil
}

func (cfg *AppConfig) sessionConfig() session.Config {
	return session.Config{
		SessionID:   domain.SessionID(cfg.SessionID),
		UserID:      domain.UserID(cfg.UserID),
		Role:        domain.Role(cfg.Role),
		DisplayName: cfg.DisplayName,
		JoinOnStart: cfg.JoinOnStart,
		Peer:        peer.Config{ICEDebounce: cfg.ICEDebounce},
	}
}

func (cfg *AppConfig) transportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.Kind = transport.Kind(cfg.Transport)
	tc.BaseURL = cfg.BackendURL
	tc.Backoff = cfg.ReconnectBackoff

	return tc
}

func newLogger(level string) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h), nil
}

// application is one running session with its optional sinks and control
// API.
type application struct {
	ctrl    *session.Controller
	sink    *media.Sink
	handler http.Handler
	closers []func()
}

func (a *application) close() {
	a.ctrl.Close()
	a.sink.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApplication builds and initializes the session. On error everything
// already opened is released.
func newApplication(ctx context.Context, cfg *AppConfig, logger *slog.Logger) (_ *application, err error) {
	a := &application{sink: media.NewSink(logger)}
	defer func() {
		if err != nil {
			for i := len(a.closers) - 1; i >= 0; i-- {
				a.closers[i]()
			}
		}
	}()

	sessionCfg := cfg.sessionConfig()
	client := backend.NewClient(backend.Config{BaseURL: cfg.BackendURL, Timeout: cfg.BackendTimeout}, nil, logger)

	var ctrl *session.Controller
	channel, err := transport.New(cfg.transportConfig(), logger, transport.WithStatusHandler(func(s transport.Status, err error) {
		if ctrl != nil {
			ctrl.TransportStatus(s, err)
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	deps := session.Deps{
		Channel:   channel,
		Backend:   client.ForSession(sessionCfg.SessionID, sessionCfg.UserID),
		Engine:    audio.NewClockEngine(&http.Client{}, 250*time.Millisecond, logger),
		StreamURL: client.StreamURL,
		OpenCapture: func(ctx context.Context) (session.Capture, error) {
			capture, err := media.OpenCapture(ctx, media.CaptureConfig{Enabled: cfg.CaptureEnabled}, logger)
			if err != nil {
				return nil, err
			}
			return capture, nil
		},
		NewFactory: func(tracks []webrtc.TrackLocal) (peer.Factory, error) {
			factory, err := peer.NewPionFactory(peer.PionConfig{ICEServers: cfg.ICEServers}, tracks, a.sink.Consume, logger)
			if err != nil {
				return nil, err
			}
			return factory, nil
		},
	}

	if err := a.openSinks(ctx, cfg, logger, &deps); err != nil {
		return nil, err
	}

	ctrl, err = session.New(sessionCfg, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	a.ctrl = ctrl
	a.handler = controller.NewController(ctrl, logger).GetMux()

	if err := ctrl.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	return a, nil
}

func (a *application) openSinks(ctx context.Context, cfg *AppConfig, logger *slog.Logger, deps *session.Deps) error {
	sessionID := domain.SessionID(cfg.SessionID)

	if cfg.RedisHost != "" {
		rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		a.closers = append(a.closers, func() { rc.Close() })

		repo := journalRedis.NewRepo(rc, cfg.JournalTTL, cfg.JournalMaxLen)
		if last, err := repo.GetPlayback(ctx, sessionID); err == nil {
			logger.InfoContext(ctx, "last mirrored playback",
				"audio_id", last.AudioID,
				"position", last.Position,
				"is_playing", last.IsPlaying,
			)
		}
		deps.Journals = append(deps.Journals, repo)
		deps.Mirror = repo
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgclient.NewPool(ctx, &pgclient.Config{DSN: cfg.PostgresDSN})
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		repo := journalPostgres.NewRepo(pool)
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		deps.Journals = append(deps.Journals, repo)
	}

	if cfg.NatsURL != "" {
		nc, err := natsclient.NewConn(&natsclient.Config{
			URL:  cfg.NatsURL,
			Name: fmt.Sprintf("classroom-%d-%d", cfg.SessionID, cfg.UserID),
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		})

		deps.Observers = append(deps.Observers, notifyNats.NewRepo(nc, cfg.NatsPrefix))
	}

	return nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	var server *http.Server
	serverErr := make(chan error, 1)
	if cfg.Port > 0 {
		server = &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: a.handler}
		go func() {
			logger.InfoContext(ctx, "starting control api", "address", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		logger.InfoContext(ctx, "shutting down", "signal", s.String())
	case <-a.ctrl.Done():
		logger.InfoContext(ctx, "session ended", "reason", a.ctrl.Reason())
	case err = <-serverErr:
		logger.ErrorContext(ctx, "control api failed", "error", err)
	case <-ctx.Done():
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WarnContext(ctx, "failed to shut down control api", "error", err)
		}
	}

	return err
}
