package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrEthical07/linkauth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores users in one table, "<schema>".users. The pool is owned by
// the caller and is not closed by the directory.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures a Postgres directory.
type PostgresOption func(*Postgres) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the users table (default "linkauth").
func WithSchema(schema string) PostgresOption {
	return func(p *Postgres) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("users: invalid schema identifier %q", schema)
		}
		p.schema = schema
		return nil
	}
}

// NewPostgres returns a directory backed by pool. Call EnsureSchema before first use.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{
		pool:   pool,
		schema: "linkauth",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, errors.New("users: nil pool")
	}
	return p, nil
}

// EnsureSchema creates the schema and table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	schema := pgx.Identifier{p.schema}.Sanitize()
	if _, err := p.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+schema); err != nil {
		return fmt.Errorf("users: create schema: %w", err)
	}

	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+p.table()+` (
		id         uuid PRIMARY KEY,
		email      text NOT NULL,
		metadata   jsonb NOT NULL DEFAULT '{}'::jsonb,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL,
		CONSTRAINT uq_users_email UNIQUE (email)
	)`)
	if err != nil {
		return fmt.Errorf("users: create table: %w", err)
	}
	return nil
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*linkauth.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, email, metadata, created_at, updated_at FROM `+p.table()+` WHERE email = $1`,
		email,
	)
	return scanUser(row)
}

func (p *Postgres) GetUserByID(ctx context.Context, id string) (*linkauth.User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, linkauth.ErrUserNotFound
	}

	row := p.pool.QueryRow(ctx,
		`SELECT id, email, metadata, created_at, updated_at FROM `+p.table()+` WHERE id = $1`,
		uid,
	)
	return scanUser(row)
}

func (p *Postgres) CreateUser(ctx context.Context, email string) (*linkauth.User, error) {
	row := p.pool.QueryRow(ctx,
		`INSERT INTO `+p.table()+` (id, email, metadata, created_at, updated_at)
		 VALUES ($1, $2, '{}'::jsonb, now(), now())
		 RETURNING id, email, metadata, created_at, updated_at`,
		uuid.New(), email,
	)

	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, linkauth.ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// UpdateUserMetadata merges patch in one statement; nil values delete keys.
func (p *Postgres) UpdateUserMetadata(ctx context.Context, id string, patch map[string]any) (*linkauth.User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, linkauth.ErrUserNotFound
	}

	set := make(map[string]any, len(patch))
	var drop []string
	for k, v := range patch {
		if v == nil {
			drop = append(drop, k)
			continue
		}
		set[k] = v
	}
	if drop == nil {
		drop = []string{}
	}

	row := p.pool.QueryRow(ctx,
		`UPDATE `+p.table()+`
		    SET metadata = (metadata || $2::jsonb) - $3::text[],
		        updated_at = now()
		  WHERE id = $1
		  RETURNING id, email, metadata, created_at, updated_at`,
		uid, set, drop,
	)
	return scanUser(row)
}

func (p *Postgres) table() string {
	return pgx.Identifier{p.schema, "users"}.Sanitize()
}

func scanUser(row pgx.Row) (*linkauth.User, error) {
	var (
		u  linkauth.User
		id uuid.UUID
	)
	if err := row.Scan(&id, &u.Email, &u.Metadata, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, linkauth.ErrUserNotFound
		}
		return nil, err
	}
	u.ID = id.String()
	if u.Metadata == nil {
		u.Metadata = map[string]any{}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}
