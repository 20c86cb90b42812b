package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	intake "github.com/goliatone/go-intake"
	"github.com/goliatone/go-intake/activitymap"
	"github.com/goliatone/go-intake/config"
	"github.com/goliatone/go-print"
)

func main() {
	_ = godotenv.Load(".env")

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && (args[0] == "serve" || args[0] == "seed") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "seed":
		err = runSeed(args)
	default:
		err = runServe(args)
	}

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "intake %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	logger   intake.Logger
	repo     intake.RepositoryManager
	store    intake.FileStore
	services *intake.Services
}

func bootstrap(ctx context.Context, fs *pflag.FlagSet) (*app, error) {
	cfg, err := config.Load(fs)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	lgr := intake.NewJSONLogger(os.Stdout, level)
	lgr.Debug("config loaded", "config", print.MaybePrettyJSON(cfg.Redacted()))

	db, err := intake.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	repo := intake.NewRepositoryManager(db, cfg.Database.Driver)
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}

	store, err := newFileStore(ctx, cfg)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	services, err := intake.NewServices(cfg, repo, store,
		intake.WithServicesLogger(lgr),
		intake.WithServicesActivitySink(activitymap.Sink(lgr)),
	)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   lgr,
		repo:     repo,
		store:    store,
		services: services,
	}, nil
}

func newFileStore(ctx context.Context, cfg *config.Config) (intake.FileStore, error) {
	if cfg.Storage.Driver == intake.StorageDriverS3 {
		return intake.NewS3FileStore(ctx, intake.S3Options{
			Bucket:          cfg.Storage.S3.Bucket,
			Region:          cfg.Storage.S3.Region,
			Endpoint:        cfg.Storage.S3.Endpoint,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
			PresignTTL:      cfg.Storage.S3.PresignTTL,
		})
	}
	return intake.NewLocalFileStore(cfg.Storage.Dir, cfg.Storage.PublicPath)
}

func runServe(args []string) error {
	fs := config.Flags("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, fs)
	if err != nil {
		return err
	}
	defer a.repo.Close()

	shutdownTracing, err := initTracing(ctx, a.cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	srv := fiber.New(fiber.Config{
		AppName:               "intake",
		DisableStartupMessage: true,
		ErrorHandler:          intake.NewErrorHandler(a.logger),
		ReadTimeout:           a.cfg.Server.ReadTimeout,
		WriteTimeout:          a.cfg.Server.WriteTimeout,
		BodyLimit:             a.cfg.Server.BodyLimit,
	})
	srv.Use(recover.New())
	srv.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	throttle := intake.NewRateLimiter(a.cfg.Server.RateLimit.Every, a.cfg.Server.RateLimit.Burst)

	var uploads *intake.LocalFileStore
	if local, ok := a.store.(*intake.LocalFileStore); ok {
		uploads = local
	}
	a.services.Mount(srv, throttle.Handler(), uploads)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.Server.Addr)
		errCh <- srv.Listen(a.cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	return srv.ShutdownWithTimeout(a.cfg.Server.ShutdownTimeout)
}
