package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/auditdocs/docvault/internal/metrics"
	"github.com/auditdocs/docvault/internal/storage"
)

// physicalCleanupTimeout bounds best-effort backend deletes that outlive the request.
const physicalCleanupTimeout = 30 * time.Second

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// Ledger is the persistence the service needs.
type Ledger interface {
	Insert(ctx context.Context, f *FileRecord) error
	Get(ctx context.Context, id, unitID string) (*FileRecord, error)
	GetByID(ctx context.Context, id string) (*FileRecord, error)
	ListByUnit(ctx context.Context, unitID string) ([]*FileRecord, error)
	Delete(ctx context.Context, id, unitID string) error
	SetAnalyzed(ctx context.Context, id, unitID string, analyzed bool) error
}

// Units reports whether a parent unit exists.
type Units interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// FileStore is the storage facade.
type FileStore interface {
	UploadFile(ctx context.Context, logicalID string, content io.Reader, size int64, contentType string) (storage.StoredObject, error)
	DeleteFile(ctx context.Context, logicalID, physicalPath string) error
}

// Upload is one file of an upload request.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Service coordinates storage writes with ledger updates.
type Service struct {
	ledger Ledger
	units  Units
	store  FileStore
	policy Policy
	log    zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a new files Service.
func NewService(ledger Ledger, units Units, store FileStore, policy Policy, log zerolog.Logger) *Service {
	return &Service{
		ledger: ledger,
		units:  units,
		store:  store,
		policy: policy,
		log:    log.With().Str("component", "file-service").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Policy returns the upload limits the service enforces.
func (s *Service) Policy() Policy {
	return s.policy
}

// Upload stores every file for unitID and records it in the ledger. All files are
// validated before the first write. Files are written in order; the first storage
// failure stops the batch and is returned as a *StorageWriteError together with the
// records created before it.
func (s *Service) Upload(ctx context.Context, callerID, unitID string, uploads []Upload) ([]*FileRecord, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	if err := s.policy.CheckCount(len(uploads)); err != nil {
		return nil, err
	}
	if err := s.requireUnit(ctx, "upload", unitID); err != nil {
		return nil, err
	}
	for _, u := range uploads {
		if err := s.policy.Check(u); err != nil {
			metrics.RecordUpload("rejected", u.Size)
			return nil, err
		}
	}

	created := make([]*FileRecord, 0, len(uploads))
	for _, u := range uploads {
		rec, err := s.uploadOne(ctx, callerID, unitID, u)
		if err != nil {
			return created, err
		}
		created = append(created, rec)
	}
	return created, nil
}

func (s *Service) uploadOne(ctx context.Context, callerID, unitID string, u Upload) (*FileRecord, error) {
	id := s.newID()
	logical := id + extension(u.Filename)
	log := s.log.With().Str("op", "upload").Str("unit_id", unitID).Str("file_id", id).Logger()

	obj, err := s.store.UploadFile(ctx, logical, u.Content, u.Size, u.ContentType)
	if err != nil {
		metrics.RecordUpload("storage_error", u.Size)
		log.Error().Err(err).Str("filename", u.Filename).Msg("storage write failed")
		return nil, &StorageWriteError{Filename: u.Filename, Err: err}
	}

	rec := &FileRecord{
		ID:           id,
		LogicalName:  logical,
		OriginalName: u.Filename,
		Size:         u.Size,
		MimeType:     u.ContentType,
		AccessURL:    obj.URL,
		OwnerID:      callerID,
		UnitID:       unitID,
		CreatedAt:    s.now().UTC(),
	}
	if obj.Path != obj.URL {
		rec.Storage = &StorageMetadata{StorageProvider: string(obj.Provider), StoragePath: obj.Path}
	}

	if err := s.ledger.Insert(ctx, rec); err != nil {
		metrics.RecordUpload("ledger_error", u.Size)
		log.Error().Err(err).Msg("ledger insert failed; removing stored object")
		s.deletePhysical(ctx, log, logical, obj.Path)
		return nil, fmt.Errorf("record file %q: %w", u.Filename, err)
	}

	metrics.RecordUpload("success", u.Size)
	log.Info().Str("path", obj.Path).Str("url", obj.URL).Str("provider", string(obj.Provider)).Msg("file uploaded")
	return rec, nil
}

// Delete removes a file of unitID. The ledger row goes first; the physical delete that
// follows is best effort and its failure does not fail the call.
func (s *Service) Delete(ctx context.Context, callerID, unitID, fileID string) error {
	if callerID == "" {
		return ErrUnauthorized
	}
	if err := s.requireUnit(ctx, "delete", unitID); err != nil {
		return err
	}
	rec, err := s.ledger.Get(ctx, fileID, unitID)
	if err != nil {
		return s.wrap("delete", unitID, fileID, err)
	}
	if err := s.ledger.Delete(ctx, fileID, unitID); err != nil {
		return s.wrap("delete", unitID, fileID, err)
	}

	log := s.log.With().Str("op", "delete").Str("unit_id", unitID).Str("file_id", fileID).Logger()
	physErr := s.deletePhysical(ctx, log, rec.LogicalName, rec.PhysicalPath())
	metrics.RecordDelete(physErr)
	if physErr == nil {
		log.Info().Str("path", rec.PhysicalPath()).Msg("file deleted")
	}
	return nil
}

// deletePhysical runs detached from ctx so an abandoned request still cleans up.
func (s *Service) deletePhysical(ctx context.Context, log zerolog.Logger, logicalID, path string) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), physicalCleanupTimeout)
	defer cancel()
	if err := s.store.DeleteFile(cleanupCtx, logicalID, path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("physical delete failed; object may be orphaned")
		return err
	}
	return nil
}

// SetAnalyzed updates the analysis flag of a file and returns the refreshed record.
func (s *Service) SetAnalyzed(ctx context.Context, callerID, unitID, fileID string, analyzed bool) (*FileRecord, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	if err := s.requireUnit(ctx, "set_analyzed", unitID); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Get(ctx, fileID, unitID); err != nil {
		return nil, s.wrap("set_analyzed", unitID, fileID, err)
	}
	if err := s.ledger.SetAnalyzed(ctx, fileID, unitID, analyzed); err != nil {
		return nil, s.wrap("set_analyzed", unitID, fileID, err)
	}
	rec, err := s.ledger.Get(ctx, fileID, unitID)
	if err != nil {
		return nil, s.wrap("set_analyzed", unitID, fileID, err)
	}
	return rec, nil
}

// List returns the files of unitID, newest first.
func (s *Service) List(ctx context.Context, callerID, unitID string) ([]*FileRecord, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	if err := s.requireUnit(ctx, "list", unitID); err != nil {
		return nil, err
	}
	recs, err := s.ledger.ListByUnit(ctx, unitID)
	if err != nil {
		return nil, s.wrap("list", unitID, "", err)
	}
	return recs, nil
}

// Get returns a single file by id.
func (s *Service) Get(ctx context.Context, callerID, fileID string) (*FileRecord, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	rec, err := s.ledger.GetByID(ctx, fileID)
	if err != nil {
		return nil, s.wrap("get", "", fileID, err)
	}
	return rec, nil
}

func (s *Service) requireUnit(ctx context.Context, op, unitID string) error {
	ok, err := s.units.Exists(ctx, unitID)
	if err != nil {
		return s.wrap(op, unitID, "", err)
	}
	if !ok {
		return fmt.Errorf("audit unit %s: %w", unitID, ErrNotFound)
	}
	return nil
}

// wrap logs unexpected errors with their operation context. ErrNotFound passes through quietly.
func (s *Service) wrap(op, unitID, fileID string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	s.log.Error().Err(err).Str("op", op).Str("unit_id", unitID).Str("file_id", fileID).Msg("file operation failed")
	return fmt.Errorf("%s file: %w", op, err)
}

// extension returns a normalized, filesystem-safe extension of name, or "".
func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if safeExt.MatchString(ext) {
		return ext
	}
	return ""
}
