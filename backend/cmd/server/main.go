package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"social-connections/backend/internal/connections"
	"social-connections/backend/internal/events"
	"social-connections/backend/internal/forwarder"
	"social-connections/backend/internal/graph"
	"social-connections/backend/internal/relay"
	"social-connections/backend/pkg/config"
	"social-connections/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting social connections server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Server failed", zap.Error(err))
	}

	log.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ledger, closeLedger, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	store := graph.NewStore(ledger, cfg.MaxBatchSize)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load follow graph: %w", err)
	}

	sinks := events.MultiSink{events.NewLogSink(logger.Named("events"))}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("social-connections"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()
		sinks = append(sinks, events.NewNATSPublisher(nc, cfg.EventSubjectPrefix))
		log.Info("Publishing events to NATS",
			zap.String("url", cfg.NATSURL),
			zap.String("prefix", cfg.EventSubjectPrefix),
		)
	}

	contract := connections.NewContract(forwarder.NewResolver(cfg.Forwarder()), store, sinks, cfg.GasLimit)
	fwd := relay.NewForwarder(cfg.Forwarder(), contract, store)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     newRouter(log, contract, fwd),
		ReadTimeout: time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server started",
			zap.String("port", cfg.Port),
			zap.String("ledger", cfg.Ledger),
			zap.String("trusted_forwarder", cfg.Forwarder().Hex()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
			return err
		}
		return nil
	})

	return g.Wait()
}

// openLedger returns the configured ledger and a function releasing it
func openLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (graph.Ledger, func(), error) {
	if cfg.Ledger == config.LedgerMemory {
		log.Warn("Using in-memory ledger; follow graph will not survive restarts")
		return graph.NewMemoryLedger(), func() {}, nil
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	// Verify Neo4j connection
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(context.Background())
		return nil, nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	repo := graph.NewRepository(driver)
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, nil, err
	}

	return repo, func() {
		if err := repo.Close(); err != nil {
			log.Warn("Failed to close Neo4j driver", zap.Error(err))
		}
	}, nil
}
