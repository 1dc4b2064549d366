package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/grihya/livechat/internal/config"
	"github.com/grihya/livechat/internal/handler"
	"github.com/grihya/livechat/internal/jobs"
	"github.com/grihya/livechat/internal/logger"
	"github.com/grihya/livechat/internal/middleware"
	"github.com/grihya/livechat/internal/push"
	"github.com/grihya/livechat/internal/repository"
	"github.com/grihya/livechat/internal/service"
	"github.com/grihya/livechat/internal/startup"
	"github.com/grihya/livechat/internal/storage"
	"github.com/grihya/livechat/internal/storage/memory"
	redisstorage "github.com/grihya/livechat/internal/storage/redis"
	"github.com/grihya/livechat/internal/ws"
)

func main() {
	logger.SetPrefix("api")
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	issueRole := flag.String("issue-token", "", "print a signed token for -subject with this role (visitor|admin) and exit")
	subject := flag.Int64("subject", 0, "user id for -issue-token")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of the token printed by -issue-token")
	genVAPID := flag.String("gen-vapid", "", "generate a VAPID key pair into this file (or load it) and print the public key")
	flag.Parse()

	err := run(*migrateOnly, *dev, *issueRole, *subject, *ttl, *genVAPID)
	logger.Flush(2 * time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run(migrateOnly, dev bool, issueRole string, subject int64, ttl time.Duration, genVAPID string) error {
	if genVAPID != "" {
		keys, err := push.ResolveKeys(config.PushConfig{KeysFile: genVAPID})
		if err != nil {
			return err
		}
		fmt.Println(keys.PublicKey)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	if issueRole != "" {
		role := middleware.Role(issueRole)
		if role != middleware.RoleAdmin && role != middleware.RoleVisitor {
			return fmt.Errorf("-issue-token: unknown role %q", issueRole)
		}
		if subject <= 0 {
			return errors.New("-issue-token requires -subject > 0")
		}
		tok, err := middleware.IssueToken([]byte(cfg.JWTSecret), subject, role, ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info("starting live chat API")

	if dev {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return fmt.Errorf("embedded postgres: %w", err)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	var (
		conversations storage.ConversationStore
		messages      storage.MessageStore
		ping          func(context.Context) error
	)
	switch cfg.Database.Driver {
	case "memory":
		if migrateOnly {
			return errors.New("-migrate needs STORE_DRIVER=postgres")
		}
		logger.Warnf("store: in-memory, data is lost on restart")
		mem := memory.New()
		conversations, messages = mem, mem
	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			return fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 2
		pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := startup.RunMigrations(pool); err != nil {
			return err
		}
		if migrateOnly {
			return nil
		}
		logger.Info("database connected, migrations applied")
		conversations = repository.NewConversationRepository(pool)
		messages = repository.NewMessageRepository(pool)
		ping = pool.Ping
	}

	var rdb *redisstorage.Client
	if cfg.NeedsRedis() {
		rdb, err = startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 30*time.Second)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	hub := ws.NewHub(conversations, cfg.MaxWSConnections)

	var (
		publisher service.Publisher
		relay     *ws.RedisBroker
		disp      *ws.Dispatcher
	)
	switch cfg.Fanout.Driver {
	case "redis":
		relay = ws.NewRedisBroker(rdb.Conn(), hub)
		disp = ws.NewDispatcher(relay, cfg.Fanout.QueueSize, cfg.Fanout.Workers, cfg.Fanout.PublishTimeout)
		publisher = disp
	case "local":
		disp = ws.NewDispatcher(hub, cfg.Fanout.QueueSize, cfg.Fanout.Workers, cfg.Fanout.PublishTimeout)
		publisher = disp
	default:
		logger.Warnf("fanout: disabled, clients must poll")
	}

	notifier, err := newNotifier(cfg, rdb)
	if err != nil {
		return err
	}

	svc := service.NewChatService(conversations, messages,
		service.WithPublisher(publisher),
		service.WithAdminNotifier(notifier))

	sched, err := jobs.NewScheduler()
	if err != nil {
		return err
	}
	if err := sched.AddJob(jobs.BacklogJobName, cfg.BacklogReportCron,
		jobs.BacklogReport(conversations, hub, 30*time.Second)); err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.Deps{
			Config:    cfg,
			Chat:      svc,
			Hub:       hub,
			Notifier:  notifier,
			Ping:      ping,
			AccessLog: true,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		logger.Info("hub stopped")
		return nil
	})
	if disp != nil {
		g.Go(func() error { return disp.Run(gctx) })
	}
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		return sched.Stop()
	})
	g.Go(func() error {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if disp != nil {
		if dropped, failed := disp.Stats(); dropped+failed > 0 {
			logger.Warnf("fanout: %d events dropped, %d publish failures", dropped, failed)
		}
	}
	logger.Info("stopped")
	return err
}

// newNotifier wires the subscription store chosen in config; key lookup is
// push.ResolveKeys.
func newNotifier(cfg *config.Config, rdb *redisstorage.Client) (*push.Notifier, error) {
	var subs storage.PushSubscriptionStore = memory.NewSubscriptions()
	if cfg.Push.Store == "redis" {
		subs = rdb
	}
	keys, err := push.ResolveKeys(cfg.Push)
	if err != nil {
		return nil, err
	}
	n := push.NewNotifier(subs, keys, cfg.Push.Subscriber)
	if n.Enabled() {
		logger.Infof("push: admin alerts enabled (store=%s)", cfg.Push.Store)
	}
	return n, nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "livechat"
		password = "livechat_dev"
		database = "livechat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "livechat-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.Driver = "postgres"
	cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
