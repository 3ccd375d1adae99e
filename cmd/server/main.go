package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"veritas/internal/audit/stream"
	"veritas/internal/challenge"
	"veritas/internal/cryptoprov"
	"veritas/internal/identity"
	identitymem "veritas/internal/identity/store/memory"
	identitypg "veritas/internal/identity/store/postgres"
	"veritas/internal/jwttoken"
	"veritas/internal/ledger"
	"veritas/internal/ledger/mirror"
	ledgermem "veritas/internal/ledger/store/memory"
	ledgerpg "veritas/internal/ledger/store/postgres"
	"veritas/internal/pipeline"
	"veritas/internal/platform/config"
	"veritas/internal/platform/httpserver"
	"veritas/internal/platform/logger"
	"veritas/internal/platform/metrics"
	platformredis "veritas/internal/platform/redis"
	httptransport "veritas/internal/transport/http"
)

// main wires the gateway together and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	crypto, err := cryptoprov.New(cfg.Crypto.KeyPath, cfg.Crypto.DataKey, log)
	if err != nil {
		log.Error("crypto provider init failed", "error", err)
		os.Exit(1)
	}
	if crypto.EphemeralDataKey() {
		log.Warn("LEDGER_DATA_KEY not set, ledger payloads will not survive a restart")
	}

	var chainStore ledger.Store
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store := ledgerpg.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("ledger schema migration failed", "error", err)
			os.Exit(1)
		}
		chainStore = store
	} else {
		log.Warn("POSTGRES_DSN not set, using in-memory stores")
		chainStore = ledgermem.New()
	}

	chainOpts := []ledger.Option{ledger.WithMetrics(m)}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		chainOpts = append(chainOpts, ledger.WithMirror(mirror.NewRedis(redisClient)))
	}

	chain := ledger.New(chainStore, crypto, log, chainOpts...)
	if err := chain.Initialize(ctx); err != nil {
		log.Error("ledger initialization failed", "error", err)
		os.Exit(1)
	}

	var subjectStore identity.Store
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Error("postgres pool init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store := identitypg.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("identity schema migration failed", "error", err)
			os.Exit(1)
		}
		subjectStore = store
	} else {
		subjectStore = identitymem.New()
	}

	ids := identity.NewService(subjectStore, log)
	if err := ids.Seed(ctx); err != nil {
		log.Error("seeding subjects failed", "error", err)
		os.Exit(1)
	}

	tokens := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, "veritas", cfg.Server.TokenTTL)
	challenges := challenge.NewRegistry(cfg.Policy.ChallengeCapacity)

	publisher, err := stream.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log, stream.WithMetrics(m))
	if err != nil {
		// The stream is best effort; verification does not depend on it.
		log.Error("audit stream init failed, continuing without it", "error", err)
		publisher = nil
	}

	pipe := pipeline.New(
		ids, tokens, challenges, chain, log,
		cfg.Policy.EnforcementThreshold,
		cfg.Policy.AuditFailMode,
		pipeline.WithMetrics(m),
		pipeline.WithPublisher(publisher),
	)

	authHandler := httptransport.NewAuthHandler(ids, tokens, challenges, log, m)
	ledgerHandler := httptransport.NewLedgerHandler(chain, log, cfg.Ledger.ReadLimit)
	keyHandler := httptransport.NewKeyHandler(crypto.PublicKeyPEM())
	resources := httptransport.NewResourceHandler(chain, log)
	router := httptransport.NewRouter(pipe, resources, ledgerHandler, keyHandler, authHandler)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting veritas gateway", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if publisher != nil {
			if err := publisher.Close(shutdownCtx); err != nil {
				log.Warn("audit stream close failed", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
