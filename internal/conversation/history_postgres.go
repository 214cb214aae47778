package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the Postgres backend needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var tableNameRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresHistoryBackend keeps one row per sender with the history as JSONB.
// The table is created by cmd/migrate.
type PostgresHistoryBackend struct {
	pool  PgxPool
	table string
}

func NewPostgresHistoryBackend(pool PgxPool, table string) *PostgresHistoryBackend {
	if pool == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	if table == "" {
		table = "chat_sessions"
	}
	if !tableNameRE.MatchString(table) {
		panic(fmt.Sprintf("conversation: invalid sessions table name %q", table))
	}
	return &PostgresHistoryBackend{pool: pool, table: table}
}

func (b *PostgresHistoryBackend) Load(ctx context.Context, senderID string) (*Session, error) {
	var (
		raw                  []byte
		createdAt, updatedAt time.Time
	)
	err := b.pool.QueryRow(ctx, `
		SELECT history, created_at, updated_at
		FROM `+b.table+`
		WHERE sender_id = $1
	`, senderID).Scan(&raw, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("conversation: failed to load session: %w", err)
	}

	history, err := DecodeHistory(raw)
	if err != nil {
		return nil, err
	}
	return &Session{
		SenderID:  senderID,
		History:   history,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func (b *PostgresHistoryBackend) Save(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("conversation: session cannot be nil")
	}
	raw, err := EncodeHistory(session.History)
	if err != nil {
		return err
	}
	createdAt, updatedAt := session.CreatedAt, session.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	if _, err := b.pool.Exec(ctx, `
		INSERT INTO `+b.table+` (sender_id, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sender_id) DO UPDATE
		SET history = EXCLUDED.history, updated_at = EXCLUDED.updated_at
	`, session.SenderID, raw, createdAt, updatedAt); err != nil {
		return fmt.Errorf("conversation: failed to persist session: %w", err)
	}
	return nil
}

func (b *PostgresHistoryBackend) Delete(ctx context.Context, senderID string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM `+b.table+` WHERE sender_id = $1`, senderID); err != nil {
		return fmt.Errorf("conversation: failed to delete session: %w", err)
	}
	return nil
}
