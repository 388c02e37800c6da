package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const revokedTokensTable = "cardauth.revoked_tokens"

// Schema creates the table used by [Postgres].
const Schema = `
CREATE SCHEMA IF NOT EXISTS cardauth;
CREATE TABLE IF NOT EXISTS cardauth.revoked_tokens (
    token_hash TEXT PRIMARY KEY,
    token_id   TEXT NOT NULL DEFAULT '',
    reason     TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS revoked_tokens_expires_at_idx ON cardauth.revoked_tokens (expires_at);
`

// Executor is the subset of *pgxpool.Pool used by [Postgres].
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps revocations in a shared table so every gate instance sees them.
type Postgres struct {
	exec    Executor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewPostgres wraps a pgx pool (or any compatible executor).
func NewPostgres(exec Executor) *Postgres {
	return &Postgres{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// WithClock overrides the clock used by IsRevoked.
func (p *Postgres) WithClock(now func() time.Time) *Postgres {
	if now != nil {
		p.now = now
	}
	return p
}

// Revoke upserts the record; a second revocation of the same token updates reason
// and expiry.
func (p *Postgres) Revoke(ctx context.Context, record Record) error {
	if err := record.validate(); err != nil {
		return err
	}

	sql, args, err := p.builder.Insert(revokedTokensTable).
		Columns("token_hash", "token_id", "reason", "expires_at").
		Values(record.TokenHash, record.TokenID, record.Reason, record.ExpiresAt.UTC()).
		Suffix("ON CONFLICT (token_hash) DO UPDATE SET reason = EXCLUDED.reason, expires_at = EXCLUDED.expires_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert revoked token sql: %w", err)
	}

	if _, err := p.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%w: insert revoked token: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	sql, args, err := p.builder.Select("1").
		From(revokedTokensTable).
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Where(squirrel.Gt{"expires_at": p.now().UTC()}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select revoked token sql: %w", err)
	}

	var one int
	if err := p.exec.QueryRow(ctx, sql, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%w: select revoked token: %v", ErrUnavailable, err)
	}
	return true, nil
}

func (p *Postgres) Purge(ctx context.Context, now time.Time) (int, error) {
	sql, args, err := p.builder.Delete(revokedTokensTable).
		Where(squirrel.LtOrEq{"expires_at": now.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge revoked tokens sql: %w", err)
	}

	tag, err := p.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: purge revoked tokens: %v", ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

var _ Store = (*Postgres)(nil)
