package graph

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "social-connections/backend/pkg/errors"
	"social-connections/backend/pkg/logger"
)

// ledgerStateID names the single node holding the sequence counter
const ledgerStateID = "follows"

// Repository is a Ledger stored in Neo4j as
// (:Account {address, nonce})-[:FOLLOWS {seq, created_at}]->(:Account {address})
// with the sequence counter on (:LedgerState {id, seq}).
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Named("neo4j"),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// EnsureSchema creates the constraints and indexes the ledger relies on
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT account_address_unique IF NOT EXISTS FOR (a:Account) REQUIRE a.address IS UNIQUE",
		"CREATE CONSTRAINT ledger_state_id_unique IF NOT EXISTS FOR (l:LedgerState) REQUIRE l.id IS UNIQUE",
		"CREATE INDEX follows_seq IF NOT EXISTS FOR ()-[f:FOLLOWS]-() ON (f.seq)",
	}

	for _, statement := range statements {
		if _, err := session.Run(ctx, statement, nil); err != nil {
			return apperrors.NewGraphQueryFailed(statement, err)
		}
	}

	r.logger.Info("Schema ensured", zap.Int("statements", len(statements)))
	return nil
}

// Reset deletes every account, its follow links and the sequence counter
func (r *Repository) Reset(ctx context.Context) (int, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, "MATCH (n) WHERE n:Account OR n:LedgerState DETACH DELETE n", nil)
	if err != nil {
		return 0, apperrors.NewGraphQueryFailed("reset accounts", err)
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return 0, apperrors.NewGraphQueryFailed("reset accounts", err)
	}

	deleted := summary.Counters().NodesDeleted()
	r.logger.Info("Ledger reset", zap.Int("nodes", deleted))
	return deleted, nil
}

// Load returns every FOLLOWS edge ordered by sequence, the account nonces and
// the sequence counter
func (r *Repository) Load(ctx context.Context) (Snapshot, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	snapshot := Snapshot{Nonces: make(map[common.Address]uint64)}

	query := `
		MATCH (a:Account)-[f:FOLLOWS]->(b:Account)
		RETURN a.address as follower, b.address as target, f.seq as seq, f.created_at as created_at
		ORDER BY f.seq
	`
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return Snapshot{}, apperrors.NewGraphQueryFailed("load edges", err)
	}
	for result.Next(ctx) {
		record := result.Record()
		snapshot.Edges = append(snapshot.Edges, Edge{
			Follower:  common.HexToAddress(getStringFromRecord(record, "follower")),
			Target:    common.HexToAddress(getStringFromRecord(record, "target")),
			Seq:       getInt64FromRecord(record, "seq"),
			CreatedAt: getTimeFromRecord(record, "created_at"),
		})
	}
	if err := result.Err(); err != nil {
		return Snapshot{}, apperrors.NewGraphQueryFailed("load edges", err)
	}

	result, err = session.Run(ctx, "MATCH (a:Account) WHERE a.nonce IS NOT NULL RETURN a.address as address, a.nonce as nonce", nil)
	if err != nil {
		return Snapshot{}, apperrors.NewGraphQueryFailed("load nonces", err)
	}
	for result.Next(ctx) {
		record := result.Record()
		addr := common.HexToAddress(getStringFromRecord(record, "address"))
		snapshot.Nonces[addr] = uint64(getInt64FromRecord(record, "nonce"))
	}
	if err := result.Err(); err != nil {
		return Snapshot{}, apperrors.NewGraphQueryFailed("load nonces", err)
	}

	result, err = session.Run(ctx, "MATCH (l:LedgerState {id: $id}) RETURN l.seq as seq", map[string]interface{}{"id": ledgerStateID})
	if err != nil {
		return Snapshot{}, apperrors.NewGraphQueryFailed("load sequence", err)
	}
	if result.Next(ctx) {
		snapshot.Seq = getInt64FromRecord(result.Record(), "seq")
	}
	if err := result.Err(); err != nil {
		return Snapshot{}, apperrors.NewGraphQueryFailed("load sequence", err)
	}

	return snapshot, nil
}

// Commit writes one call's changes, its sequence counter and nonce in a single transaction
func (r *Repository) Commit(ctx context.Context, entry Entry) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	follows, unfollows := changeRows(entry.Changes)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(unfollows) > 0 {
			query := `
				UNWIND $rows AS row
				MATCH (a:Account {address: row.follower})-[f:FOLLOWS]->(b:Account {address: row.target})
				DELETE f
			`
			if _, err := tx.Run(ctx, query, map[string]interface{}{"rows": unfollows}); err != nil {
				return nil, fmt.Errorf("failed to delete follows: %w", err)
			}
		}
		if len(follows) > 0 {
			query := `
				UNWIND $rows AS row
				MERGE (a:Account {address: row.follower})
				MERGE (b:Account {address: row.target})
				CREATE (a)-[:FOLLOWS {seq: row.seq, created_at: datetime()}]->(b)
			`
			if _, err := tx.Run(ctx, query, map[string]interface{}{"rows": follows}); err != nil {
				return nil, fmt.Errorf("failed to create follows: %w", err)
			}
		}
		if len(entry.Changes) > 0 {
			query := `
				MERGE (l:LedgerState {id: $id})
				SET l.seq = CASE WHEN l.seq IS NULL OR l.seq < $seq THEN $seq ELSE l.seq END
			`
			if _, err := tx.Run(ctx, query, map[string]interface{}{"id": ledgerStateID, "seq": entry.Seq}); err != nil {
				return nil, fmt.Errorf("failed to advance sequence: %w", err)
			}
		}
		if entry.Nonce != nil {
			query := `
				MERGE (a:Account {address: $address})
				SET a.nonce = $nonce
			`
			params := map[string]interface{}{
				"address": entry.Nonce.Account.Hex(),
				"nonce":   int64(entry.Nonce.Next),
			}
			if _, err := tx.Run(ctx, query, params); err != nil {
				return nil, fmt.Errorf("failed to advance nonce: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("Entry committed",
		zap.Int("follows", len(follows)),
		zap.Int("unfollows", len(unfollows)),
		zap.Int64("seq", entry.Seq),
		zap.Bool("nonce", entry.Nonce != nil),
	)
	return nil
}

// changeRows splits changes into Cypher parameter rows. A single call never
// both adds and removes the same edge, so the two lists can run independently.
func changeRows(changes []Change) (follows, unfollows []map[string]interface{}) {
	for _, c := range changes {
		row := map[string]interface{}{
			"follower": c.Follower.Hex(),
			"target":   c.Target.Hex(),
			"seq":      c.Seq,
		}
		switch c.Kind {
		case ChangeFollow:
			follows = append(follows, row)
		case ChangeUnfollow:
			unfollows = append(unfollows, row)
		}
	}
	return follows, unfollows
}
