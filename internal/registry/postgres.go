package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/config"
	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// postgresSchema creates the ticket table and the parent index used for
// cascading revocation lookups.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS sso_tickets (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    parent_id  TEXT,
    use_count  INTEGER NOT NULL DEFAULT 0,
    body       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS sso_tickets_parent_idx ON sso_tickets (parent_id);
`

// PostgresStore is a Store backed by PostgreSQL, suited to deployments
// that want durable long-lived tickets (sessions surviving a cache flush).
// Insert-if-absent maps to INSERT .. ON CONFLICT DO NOTHING and
// compare-and-delete to a conditional DELETE on the use count, both atomic
// at the database.
//
// Update is strict: writing a vanished record fails with
// ticket.ErrTicketNotFound.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgresStore connects to PostgreSQL, bootstraps the schema and
// verifies connectivity.
func NewPostgresStore(ctx context.Context, cfg *config.DatabaseConfig, logger *logrus.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConn
	poolConfig.MinConns = cfg.MinConn
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	store := &PostgresStore{pool: pool, logger: logger}
	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", pingErr)
	}
	if _, schemaErr := pool.Exec(ctx, postgresSchema); schemaErr != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to bootstrap ticket schema: %w", schemaErr)
	}

	logger.Info("Connected to PostgreSQL ticket store")
	return store, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	s.logger.Info("PostgreSQL ticket store closed")
	return nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, t *ticket.Ticket) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sso_tickets (id, kind, parent_id, use_count, body)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, string(t.Kind), t.ParentID, t.UseCount, body)
	if err != nil {
		return fmt.Errorf("failed to store ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ticket.ErrDuplicateTicket, t.ID)
	}

	s.logger.WithField("ticket_id", maskID(t.ID)).Debug("Ticket stored in PostgreSQL")
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM sso_tickets WHERE id = $1`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ticket.ErrTicketNotFound, id)
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	var t ticket.Ticket
	if unmarshalErr := json.Unmarshal(body, &t); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket %s: %w", id, unmarshalErr)
	}
	return &t, nil
}

// Update implements Store. Strict per the Store contract.
func (s *PostgresStore) Update(ctx context.Context, t *ticket.Ticket) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sso_tickets SET use_count = $2, body = $3 WHERE id = $1`,
		t.ID, t.UseCount, body)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ticket.ErrTicketNotFound, t.ID)
	}
	return nil
}

// CompareAndDelete implements Store.
func (s *PostgresStore) CompareAndDelete(ctx context.Context, id string, expectedUses int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sso_tickets WHERE id = $1 AND use_count = $2`, id, expectedUses)
	if err != nil {
		return false, fmt.Errorf("failed to consume ticket: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sso_tickets WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete ticket: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAll implements Store.
func (s *PostgresStore) DeleteAll(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sso_tickets`)
	if err != nil {
		return 0, fmt.Errorf("failed to flush tickets: %w", err)
	}

	removed := int(tag.RowsAffected())
	s.logger.WithField("tickets_removed", removed).Info("PostgreSQL ticket store flushed")
	return removed, nil
}

// Children implements Store.
func (s *PostgresStore) Children(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM sso_tickets WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read child index: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("failed to scan child id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate child index: %w", rowsErr)
	}
	return ids, nil
}

// Scan implements Store.
func (s *PostgresStore) Scan(ctx context.Context, visit func(*ticket.Ticket) error) error {
	rows, err := s.pool.Query(ctx, `SELECT body FROM sso_tickets`)
	if err != nil {
		return fmt.Errorf("failed to scan tickets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if scanErr := rows.Scan(&body); scanErr != nil {
			return fmt.Errorf("failed to scan ticket row: %w", scanErr)
		}
		var t ticket.Ticket
		if unmarshalErr := json.Unmarshal(body, &t); unmarshalErr != nil {
			return fmt.Errorf("failed to unmarshal stored ticket: %w", unmarshalErr)
		}
		if visitErr := visit(&t); visitErr != nil {
			return visitErr
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("failed to iterate tickets: %w", rowsErr)
	}
	return nil
}
