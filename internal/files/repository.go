package files

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles all files ledger operations.
//
// The storage_provider and storage_path columns are optional: they are only read and
// written once the schema initializer has confirmed they exist. Until then the
// metadata column alone carries storage information.
type Repository struct {
	db             DBTX
	storageColumns atomic.Bool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// EnableStorageColumns switches the repository to the reconciled schema.
func (r *Repository) EnableStorageColumns() {
	r.storageColumns.Store(true)
}

// StorageColumnsEnabled reports whether the optional storage columns are in use.
func (r *Repository) StorageColumnsEnabled() bool {
	return r.storageColumns.Load()
}

const baseColumns = `f.id, f.name, f.original_name, f.file_path, f.file_size, f.file_type,
	f.user_id, COALESCE(u.name, ''), f.audit_unit_id, f.is_analyzed, f.metadata, f.upload_date`

const fromFiles = ` FROM files f LEFT JOIN users u ON u.id::text = f.user_id`

func selectColumns(withStorage bool) string {
	if withStorage {
		return baseColumns + `, f.storage_provider, f.storage_path`
	}
	return baseColumns
}

// Insert writes a new file record. CreatedAt must already be set.
func (r *Repository) Insert(ctx context.Context, f *FileRecord) error {
	cols := []string{"id", "name", "original_name", "file_path", "file_size", "file_type",
		"upload_date", "user_id", "audit_unit_id", "is_analyzed", "metadata"}
	args := []any{f.ID, f.LogicalName, f.OriginalName, f.AccessURL, f.Size, f.MimeType,
		f.CreatedAt, f.OwnerID, f.UnitID, f.Analyzed, encodeMetadata(f.Storage)}

	if r.StorageColumnsEnabled() && f.Storage != nil {
		cols = append(cols, "storage_provider", "storage_path")
		args = append(args, f.Storage.StorageProvider, f.Storage.StoragePath)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := `INSERT INTO files (` + strings.Join(cols, ", ") + `) VALUES (` + strings.Join(placeholders, ", ") + `)`

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// Get fetches a file scoped to its unit.
func (r *Repository) Get(ctx context.Context, id, unitID string) (*FileRecord, error) {
	if !validID(id) || !validID(unitID) {
		return nil, ErrNotFound
	}
	withStorage := r.StorageColumnsEnabled()
	row := r.db.QueryRow(ctx,
		`SELECT `+selectColumns(withStorage)+fromFiles+` WHERE f.id = $1 AND f.audit_unit_id = $2`,
		id, unitID,
	)
	f, err := scanFile(row, withStorage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

// GetByID fetches a file regardless of unit.
func (r *Repository) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	withStorage := r.StorageColumnsEnabled()
	row := r.db.QueryRow(ctx, `SELECT `+selectColumns(withStorage)+fromFiles+` WHERE f.id = $1`, id)
	f, err := scanFile(row, withStorage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file by id: %w", err)
	}
	return f, nil
}

// ListByUnit returns every file of a unit, newest first.
func (r *Repository) ListByUnit(ctx context.Context, unitID string) ([]*FileRecord, error) {
	if !validID(unitID) {
		return nil, nil
	}
	withStorage := r.StorageColumnsEnabled()
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns(withStorage)+fromFiles+` WHERE f.audit_unit_id = $1 ORDER BY f.upload_date DESC, f.id`,
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows, withStorage)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return out, nil
}

// Delete removes a file row scoped to its unit.
func (r *Repository) Delete(ctx context.Context, id, unitID string) error {
	if !validID(id) || !validID(unitID) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1 AND audit_unit_id = $2`, id, unitID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAnalyzed updates only the is_analyzed flag.
func (r *Repository) SetAnalyzed(ctx context.Context, id, unitID string, analyzed bool) error {
	if !validID(id) || !validID(unitID) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE files SET is_analyzed = $3 WHERE id = $1 AND audit_unit_id = $2`,
		id, unitID, analyzed,
	)
	if err != nil {
		return fmt.Errorf("update file analysis status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFile(row pgx.Row, withStorage bool) (*FileRecord, error) {
	f := &FileRecord{}
	var metadata, provider, path *string
	dest := []any{
		&f.ID, &f.LogicalName, &f.OriginalName, &f.AccessURL, &f.Size, &f.MimeType,
		&f.OwnerID, &f.OwnerName, &f.UnitID, &f.Analyzed, &metadata, &f.CreatedAt,
	}
	if withStorage {
		dest = append(dest, &provider, &path)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	switch {
	case path != nil && *path != "":
		f.Storage = &StorageMetadata{StoragePath: *path}
		if provider != nil {
			f.Storage.StorageProvider = *provider
		}
	default:
		f.Storage = decodeMetadata(metadata)
	}
	return f, nil
}

// validID guards UUID columns against malformed input, which Postgres would reject
// with a syntax error rather than an empty result.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
