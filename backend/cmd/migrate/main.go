package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"social-connections/backend/internal/graph"
	"social-connections/backend/pkg/config"
	"social-connections/backend/pkg/logger"
)

func main() {
	reset := flag.Bool("reset", false, "Delete every account and follow link before migrating")
	skipConfirm := flag.Bool("y", false, "Skip confirmation prompt")
	flag.Parse()

	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting Neo4j schema migration...")

	if *reset && !*skipConfirm {
		log.Warn("This will DELETE ALL accounts and follow links from Neo4j")
		fmt.Print("Are you sure you want to continue? (yes/no): ")
		var response string
		fmt.Scanln(&response)
		if response != "yes" && response != "y" {
			log.Info("Aborted.")
			os.Exit(0)
		}
	}

	// Load configuration
	cfg, err := config.LoadNeo4j()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	if err := run(context.Background(), cfg, *reset, log); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}

	log.Info("Migration completed successfully")
}

func run(ctx context.Context, cfg *config.Config, reset bool, log *zap.Logger) error {
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		return fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	repo := graph.NewRepository(driver)
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warn("Failed to close Neo4j driver", zap.Error(err))
		}
	}()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	if reset {
		if _, err := repo.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset ledger: %w", err)
		}
	}

	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	// Loading through the store validates the persisted graph
	store := graph.NewStore(repo, cfg.MaxBatchSize)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("persisted follow graph is inconsistent: %w", err)
	}
	return nil
}
