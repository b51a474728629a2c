package files

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SchemaInitKey names the one-shot initializer that reconciles the files table.
const SchemaInitKey = "storage-system"

// optionalColumns are added to files when missing. They stay nullable so rows written
// before they existed remain valid.
var optionalColumns = []string{"storage_provider", "storage_path"}

// SchemaReconciler brings the files table up to the columns the repository expects.
type SchemaReconciler struct {
	db   DBTX
	repo *Repository
	log  zerolog.Logger
}

// NewSchemaReconciler creates a reconciler that enables the optional columns on repo once done.
func NewSchemaReconciler(db DBTX, repo *Repository, log zerolog.Logger) *SchemaReconciler {
	return &SchemaReconciler{
		db:   db,
		repo: repo,
		log:  log.With().Str("component", "files-schema").Logger(),
	}
}

// Reconcile adds missing optional columns, backfills them from the legacy metadata
// column and switches the repository over. Safe to run repeatedly; callers should
// still run it through initonce so concurrent ALTERs never race.
func (s *SchemaReconciler) Reconcile(ctx context.Context) error {
	for _, col := range optionalColumns {
		exists, err := s.columnExists(ctx, col)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		s.log.Info().Str("column", col).Msg("adding column to files")
		if _, err := s.db.Exec(ctx, `ALTER TABLE files ADD COLUMN IF NOT EXISTS `+col+` TEXT`); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
	}

	n, err := s.backfill(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info().Int("rows", n).Msg("backfilled storage columns from metadata")
	}

	s.repo.EnableStorageColumns()
	s.log.Info().Msg("files schema reconciled")
	return nil
}

// Initializer runs a keyed setup procedure at most once successfully and reports
// whether the key is initialized. *initonce.Guard satisfies it.
type Initializer interface {
	Initialize(ctx context.Context, key string, setup func(context.Context) error) bool
}

// KeepReconciling retries Reconcile through guard every interval until the storage
// columns are enabled or ctx ends. It returns at once when they already are.
func (s *SchemaReconciler) KeepReconciling(ctx context.Context, guard Initializer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !s.repo.StorageColumnsEnabled() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if guard.Initialize(ctx, SchemaInitKey, s.Reconcile) {
			s.log.Info().Msg("files schema reconciled after retry")
		}
	}
}

func (s *SchemaReconciler) columnExists(ctx context.Context, column string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = 'files' AND column_name = $1)`,
		column,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check column %s: %w", column, err)
	}
	return exists, nil
}

type legacyRow struct {
	id   string
	meta *StorageMetadata
}

// backfill copies storage info out of metadata for rows whose columns are still NULL.
// Malformed metadata is skipped; those rows fall back to the access URL on delete.
func (s *SchemaReconciler) backfill(ctx context.Context) (int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id::text, metadata FROM files WHERE storage_path IS NULL AND metadata IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("select legacy rows: %w", err)
	}

	var pending []legacyRow
	for rows.Next() {
		var (
			id  string
			raw *string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan legacy row: %w", err)
		}
		if m := decodeMetadata(raw); m != nil {
			pending = append(pending, legacyRow{id: id, meta: m})
		} else {
			s.log.Warn().Str("file_id", id).Msg("skipping unparseable file metadata")
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("select legacy rows: %w", err)
	}

	for _, r := range pending {
		if _, err := s.db.Exec(ctx,
			`UPDATE files SET storage_provider = $2, storage_path = $3 WHERE id = $1 AND storage_path IS NULL`,
			r.id, r.meta.StorageProvider, r.meta.StoragePath,
		); err != nil {
			return 0, fmt.Errorf("backfill file %s: %w", r.id, err)
		}
	}
	return len(pending), nil
}
