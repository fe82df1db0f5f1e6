package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/collections"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/httpapi"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/settings"
	"gatehouse.dev/internal/store/pg"
	"gatehouse.dev/internal/upload"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type stores struct {
	users       auth.PrincipalStore
	admins      auth.PrincipalStore
	roles       auth.RoleStore
	audit       auth.AuditStore
	collections collections.Store
	settings    settings.Store
	ready       httpapi.ReadyProbe
	close       func() error
}

func main() {
	configPath := flag.String("config", os.Getenv("GATEHOUSE_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := obs.Configure(os.Stderr, obs.LogConfig{ServiceName: "gatehouse"})
		boot.Fatal().Err(err).Msg("load config")
	}
	log := obs.Configure(os.Stdout, obs.LogConfig{Level: cfg.Log.Level, ServiceName: "gatehouse"})
	obs.Init()
	obs.InitBuildInfo(version, commit)

	st, err := openStores(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open stores")
	}
	defer func() { _ = st.close() }()

	deps, err := buildServices(cfg, st, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build services")
	}

	api, err := httpapi.New(deps, httpapi.Options{
		Version:      version,
		RatePerSec:   cfg.HTTP.RatePerSec,
		RateBurst:    cfg.HTTP.RateBurst,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		TrustProxy:   cfg.HTTP.TrustProxy,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		UploadDir:    cfg.Upload.Dir,
		Logger:       log.With().Str("component", "http").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build http api")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	httpapi.NewGRPCServer(st.ready).Register(grpcServer)
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPC.Addr).Msg("grpc listen")
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPC.Addr).Msg("grpc server starting")
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	grpcServer.GracefulStop()
	log.Info().Msg("stopped")
}

// openStores uses PostgreSQL when a DSN is configured and in-memory stores
// otherwise.
func openStores(cfg config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.Database.DSN == "" {
		log.Warn().Msg("no database configured; state is in-memory and lost on exit")
		return &stores{
			users:       auth.NewMemoryPrincipalStore(auth.KindUser),
			admins:      auth.NewMemoryPrincipalStore(auth.KindAdmin),
			roles:       auth.NewMemoryRoleStore(),
			audit:       auth.NewMemoryAuditStore(),
			collections: collections.NewMemoryStore(),
			settings:    settings.NewMemoryStore(),
			close:       func() error { return nil },
		}, nil
	}

	db, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnLifetime: cfg.Database.ConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("database not reachable yet")
	}
	return &stores{
		users:       db.Users(),
		admins:      db.Admins(),
		roles:       db.Roles(),
		audit:       db.Audit(),
		collections: db.Collections(),
		settings:    db.Settings(),
		ready:       httpapi.ReadyProbe{DB: db.DB()},
		close:       db.Close,
	}, nil
}

func buildServices(cfg config.Config, st *stores, log zerolog.Logger) (httpapi.Deps, error) {
	ctx := context.Background()

	sink := audit.NewSink(st.audit, log.With().Str("component", "audit").Logger())
	disk, err := upload.NewDisk(cfg.Upload.Dir, cfg.MaxUploadBytes())
	if err != nil {
		return httpapi.Deps{}, err
	}
	hasher := auth.NewHasher(auth.DefaultHashParams())
	// One limiter keyed by address covers both login endpoints.
	limiter := auth.NewRateLimiter(cfg.Auth.RateLimitAttempts, cfg.Auth.RateLimitWindow, nil)

	// Each kind signs with its own issuer so a user token never validates
	// as an admin token for the same username.
	newService := func(store auth.PrincipalStore) (*auth.Service, error) {
		codec, err := auth.NewTokenCodec(cfg.Auth.Secret, cfg.Auth.AccessTokenTTL,
			auth.WithTokenIssuer(cfg.Auth.Issuer+":"+string(store.Kind())))
		if err != nil {
			return nil, err
		}
		return auth.NewService(store, codec,
			auth.WithHasher(hasher),
			auth.WithRateLimiter(limiter),
			auth.WithLockout(cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutDuration),
			auth.WithFailureDelay(cfg.Auth.FailureDelay),
			auth.WithAuditSink(sink),
			auth.WithUploader(disk),
			auth.WithLogger(log),
		)
	}
	users, err := newService(st.users)
	if err != nil {
		return httpapi.Deps{}, err
	}
	admins, err := newService(st.admins)
	if err != nil {
		return httpapi.Deps{}, err
	}

	rbac, err := auth.NewRBACService(st.roles)
	if err != nil {
		return httpapi.Deps{}, err
	}
	if _, err := rbac.Seed(ctx); err != nil {
		return httpapi.Deps{}, err
	}
	if cfg.Auth.BootstrapFile != "" {
		n, err := admins.SeedFromFile(ctx, cfg.Auth.BootstrapFile, rbac)
		if err != nil {
			return httpapi.Deps{}, err
		}
		log.Info().Int("created", n).Str("file", cfg.Auth.BootstrapFile).Msg("bootstrap admins seeded")
	}

	return httpapi.Deps{
		Users:       users,
		Admins:      admins,
		RBAC:        rbac,
		Resolver:    auth.NewResolver(st.roles),
		Collections: collections.NewService(st.collections, sink, disk),
		Settings:    settings.NewService(st.settings, sink),
		AuditLog:    audit.NewLister(st.audit),
		Ready:       st.ready,
	}, nil
}
