package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/caro-series/internal/api"
	"github.com/park285/caro-series/internal/clock"
	"github.com/park285/caro-series/internal/config"
	"github.com/park285/caro-series/internal/disconnect"
	"github.com/park285/caro-series/internal/msgcat"
	"github.com/park285/caro-series/internal/notify"
	"github.com/park285/caro-series/internal/obslog"
	"github.com/park285/caro-series/internal/profile"
	"github.com/park285/caro-series/internal/rematch"
	"github.com/park285/caro-series/internal/rewardq"
	"github.com/park285/caro-series/internal/series"
	"github.com/park285/caro-series/internal/sqlstore"
)

// App is the assembled series service.
type App struct {
	cfg *config.AppConfig

	Machine    *series.Machine
	Monitor    *disconnect.Monitor
	Negotiator *rematch.Negotiator
	Archive    *sqlstore.Archive
	Queue      *rewardq.Queue
	Handler    http.Handler

	rdb    *redis.Client
	db     *sql.DB
	async  *notify.Async
	worker *rewardq.Worker
}

// New wires stores, engine, egress and HTTP handler from cfg.
func New(cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	a := &App{cfg: cfg}
	clk := clock.Real()

	// Redis (optional)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = a.rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = a.rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	// Database (optional)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := sqlstore.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		a.Archive = sqlstore.NewArchive(db)
	}

	var profiles profile.Store
	switch cfg.ProfileBackend {
	case config.ProfileBackendSQL:
		if a.db == nil {
			a.Close()
			return nil, errors.New("DATABASE_URL is required for the sql profile backend")
		}
		profiles = sqlstore.NewProfileStore(a.db)
	case config.ProfileBackendRedis:
		if a.rdb == nil {
			a.Close()
			return nil, errors.New("REDIS_URL is required for the redis profile backend")
		}
		profiles = profile.NewRedisStore(a.rdb)
	default:
		profiles = profile.NewMemoryStore()
	}

	var store series.Store = series.NewMemoryStore()
	if a.rdb != nil {
		store = series.NewRedisStore(a.rdb, cfg.SeriesTTL)
	}

	a.Machine = series.NewMachine(profiles, store, clk, series.Options{NextGameCountdown: cfg.NextGameCountdown})
	a.Monitor = disconnect.New(a.Machine, clk, cfg.DisconnectGrace)
	a.Negotiator = rematch.NewNegotiator(a.Machine, clk, cfg.RematchExpiry, cfg.RematchWindow)
	a.Machine.AttachMonitor(a.Monitor)
	a.Machine.AttachRematch(a.Negotiator)
	if a.Archive != nil {
		a.Machine.AttachArchiver(a.Archive)
	}
	if a.rdb != nil {
		a.Queue = rewardq.NewQueue(a.rdb, "rewards", clk, cfg.RewardRetryInterval, cfg.RewardRetryMax)
		a.Machine.AttachRetrier(a.Queue)
		a.worker = rewardq.NewWorker(a.Queue, a.Machine, clk, cfg.RewardRetryInterval)
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}
	a.async = notify.NewAsync(a.egress(cat), 1024)
	a.Machine.AttachEgress(a.async)
	a.Monitor.AttachEgress(a.async)
	a.Negotiator.AttachEgress(a.async)

	deps := api.Deps{
		Series:         a.Machine,
		Presence:       a.Monitor,
		Rematch:        a.Negotiator,
		OriginPatterns: originHosts(cfg.CORSAllowedOrigins),
	}
	if a.Archive != nil {
		deps.History = a.Archive
	}
	a.Handler = api.NewHandler(deps, cfg.CORSAllowedOrigins)

	obslog.L().Info("app_ready",
		zap.String("profile_backend", cfg.ProfileBackend),
		zap.Bool("redis", a.rdb != nil),
		zap.Bool("database", a.db != nil),
		zap.Bool("webhook", cfg.WebhookURL != ""),
	)
	return a, nil
}

func (a *App) egress(cat *msgcat.Catalog) notify.Egress {
	out := notify.Fanout{notify.NewLogEgress(cat)}
	if a.rdb != nil {
		out = append(out, notify.NewRedisEgress(a.rdb, a.cfg.EventsChannel, cat))
	}
	if a.cfg.WebhookURL != "" {
		opts := []notify.WebhookOption{notify.WithCatalog(cat)}
		if token := a.cfg.WebhookToken; token != "" {
			opts = append(opts, notify.WithHeaderProvider(func() map[string]string {
				return map[string]string{"Authorization": "Bearer " + token}
			}))
		}
		out = append(out, notify.NewWebhookEgress(a.cfg.WebhookURL, opts...))
	}
	return out
}

// Run serves HTTP and background workers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obslog.L().Info("http_listen", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		obslog.L().Info("http_shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.async.Run(gctx) })
	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(gctx) })
	}
	return g.Wait()
}

func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

// originHosts turns CORS origins into websocket origin patterns.
func originHosts(origins []string) []string {
	var out []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return []string{"*"}
		}
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
