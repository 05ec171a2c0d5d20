package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"CompetitorScanner/internal/config"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/ports"
)

const defaultBatchSize = 100

const (
	accountConflict = `ON CONFLICT (project_id, seed_account, external_user_id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    profile_pic_url = EXCLUDED.profile_pic_url,
		    updated_at = now()
		WHERE competitor_accounts.full_name IS DISTINCT FROM EXCLUDED.full_name
		   OR competitor_accounts.profile_pic_url IS DISTINCT FROM EXCLUDED.profile_pic_url
		RETURNING (xmax = 0) AS inserted`
	reelConflict = `ON CONFLICT (project_id, external_id) DO NOTHING`
)

// PostgresRepository persists competitor accounts and reels into Postgres.
// Every upsert call runs in one transaction; rows are queued in pgx batches.
type PostgresRepository struct {
	pool      *pgxpool.Pool
	batchSize int
	sb        sq.StatementBuilderType

	mu    sync.RWMutex
	known map[int64]struct{}
}

var _ ports.CompetitorRepository = (*PostgresRepository)(nil)

// Open parses the DSN, applies pool limits and pings the server.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", domain.ErrPersistenceUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrPersistenceUnavailable, err)
	}
	return pool, nil
}

// NewPostgresRepository wires a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool, batchSize int) *PostgresRepository {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &PostgresRepository{
		pool:      pool,
		batchSize: batchSize,
		sb:        sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		known:     map[int64]struct{}{},
	}
}

// ProjectExists reports whether projectID references a row in projects.
// Positive answers are cached; projects are never deleted while a run is
// in flight.
func (r *PostgresRepository) ProjectExists(ctx context.Context, projectID int64) (bool, error) {
	r.mu.RLock()
	_, ok := r.known[projectID]
	r.mu.RUnlock()
	if ok {
		return true, nil
	}

	query, args, err := r.sb.Select().
		Column(sq.Expr("EXISTS (SELECT 1 FROM projects WHERE id = ?)", projectID)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build project query: %w", err)
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, classify("check project", err)
	}
	if exists {
		r.mu.Lock()
		r.known[projectID] = struct{}{}
		r.mu.Unlock()
	}
	return exists, nil
}

func (r *PostgresRepository) requireProject(ctx context.Context, projectID int64) error {
	exists, err := r.ProjectExists(ctx, projectID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", domain.ErrUnknownProject, projectID)
	}
	return nil
}

// UpsertAccounts inserts new accounts and refreshes display fields of known
// ones. Refreshed and unchanged rows both count as skipped.
func (r *PostgresRepository) UpsertAccounts(ctx context.Context, projectID int64, seed string, accounts []domain.DiscoveredAccount) (domain.UpsertStats, error) {
	if err := r.requireProject(ctx, projectID); err != nil {
		return domain.UpsertStats{}, err
	}
	unique, dups := dedupe(accounts, func(a domain.DiscoveredAccount) string { return a.ExternalID })
	stats := domain.UpsertStats{Skipped: dups}
	if len(unique) == 0 {
		return stats, nil
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for start := 0; start < len(unique); start += r.batchSize {
			chunk := unique[start:min(start+r.batchSize, len(unique))]
			batch := &pgx.Batch{}
			for _, a := range chunk {
				query, args, err := r.sb.Insert("competitor_accounts").
					Columns("project_id", "seed_account", "external_user_id", "username", "full_name",
						"is_private", "is_verified", "profile_pic_url", "profile_url", "discovered_at").
					Values(projectID, seed, a.ExternalID, a.Username, a.FullName,
						a.IsPrivate, a.IsVerified, a.ProfilePicURL, a.ProfileURL, a.DiscoveredAt).
					Suffix(accountConflict).
					ToSql()
				if err != nil {
					return fmt.Errorf("build account upsert: %w", err)
				}
				batch.Queue(query, args...)
			}

			br := tx.SendBatch(ctx, batch)
			for range chunk {
				var inserted bool
				err := br.QueryRow().Scan(&inserted)
				switch {
				case errors.Is(err, pgx.ErrNoRows):
					stats.Skipped++
				case err != nil:
					_ = br.Close()
					return err
				case inserted:
					stats.Inserted++
				default:
					stats.Skipped++
				}
			}
			if err := br.Close(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.UpsertStats{}, classify("upsert accounts", err)
	}
	return stats, nil
}

// UpsertContentItems inserts reels; existing keys are left untouched.
func (r *PostgresRepository) UpsertContentItems(ctx context.Context, projectID int64, items []domain.ContentItem) (domain.UpsertStats, error) {
	if err := r.requireProject(ctx, projectID); err != nil {
		return domain.UpsertStats{}, err
	}
	unique, dups := dedupe(items, func(i domain.ContentItem) string { return i.ExternalID })
	stats := domain.UpsertStats{Skipped: dups}
	if len(unique) == 0 {
		return stats, nil
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for start := 0; start < len(unique); start += r.batchSize {
			chunk := unique[start:min(start+r.batchSize, len(unique))]
			batch := &pgx.Batch{}
			for _, it := range chunk {
				query, args, err := r.sb.Insert("competitor_reels").
					Columns("project_id", "external_id", "account_external_id", "account_username", "caption",
						"url", "views", "likes", "comments", "published_at", "discovered_at").
					Values(projectID, it.ExternalID, it.AccountID, it.AccountUsername, it.Caption,
						it.URL, it.Views, it.Likes, it.Comments, it.PublishedAt, it.DiscoveredAt).
					Suffix(reelConflict).
					ToSql()
				if err != nil {
					return fmt.Errorf("build reel insert: %w", err)
				}
				batch.Queue(query, args...)
			}

			br := tx.SendBatch(ctx, batch)
			for range chunk {
				tag, err := br.Exec()
				if err != nil {
					_ = br.Close()
					return err
				}
				if tag.RowsAffected() == 1 {
					stats.Inserted++
				} else {
					stats.Skipped++
				}
			}
			if err := br.Close(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.UpsertStats{}, classify("upsert reels", err)
	}
	return stats, nil
}

func dedupe[T any](in []T, key func(T) string) ([]T, int) {
	out := make([]T, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		k := key(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out, len(in) - len(out)
}

// classify maps driver errors onto the domain taxonomy. A foreign-key
// violation means the project vanished; anything else is treated as a
// retryable connectivity or transaction failure.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrUnknownProject, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrPersistenceUnavailable, err)
}
