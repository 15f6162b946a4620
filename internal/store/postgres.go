package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"log/slog"

	"chatrelay/internal/app"
)

// Errors callers are expected to branch on.
var (
	ErrNotFound       = errors.New("not found")
	ErrBadCapacity    = errors.New("max users must be between 1 and 10")
	ErrOwnerRoomLimit = errors.New("creator already owns the maximum number of rooms")
	ErrNotCreator     = errors.New("room can only be deleted by its creator")
)

type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to postgres and returns a pool wrapper
func NewPostgres(ctx context.Context, cfg app.Config, log *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// Ping verifies connectivity, used by /readyz
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// newID mints primary keys application-side, keeping the schema free of
// the pgcrypto extension
func newID() string { return uuid.NewString() }

// isUniqueViolation reports whether err is a postgres 23505
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
