// Package unit looks up the audit units that uploaded files belong to.
package unit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Unit is an organizational entity that owns a set of files.
type Unit struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrNotFound is returned when a unit does not exist.
var ErrNotFound = errors.New("audit unit not found")

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles audit unit reads.
type Repository struct {
	db DBTX
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// GetByID fetches a unit by its UUID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Unit, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	u := &Unit{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM audit_units WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Name, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit unit by id: %w", err)
	}
	return u, nil
}

// Exists reports whether a unit with the given id exists.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM audit_units WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check audit unit existence: %w", err)
	}
	return exists, nil
}

// Create inserts a unit. Units are normally managed by the surrounding application;
// this is used for seeding and tests.
func (r *Repository) Create(ctx context.Context, name string) (*Unit, error) {
	u := &Unit{}
	err := r.db.QueryRow(ctx,
		`INSERT INTO audit_units (name) VALUES ($1) RETURNING id, name, created_at`,
		name,
	).Scan(&u.ID, &u.Name, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create audit unit: %w", err)
	}
	return u, nil
}
