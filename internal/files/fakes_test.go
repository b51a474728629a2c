package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/auditdocs/docvault/internal/storage"
)

type memLedger struct {
	mu        sync.Mutex
	rows      map[string]FileRecord
	owners    map[string]string
	insertErr error
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[string]FileRecord{}, owners: map[string]string{}}
}

func (l *memLedger) Insert(_ context.Context, f *FileRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.insertErr != nil {
		return l.insertErr
	}
	if _, dup := l.rows[f.ID]; dup {
		return fmt.Errorf("duplicate id %s", f.ID)
	}
	l.rows[f.ID] = *f
	return nil
}

func (l *memLedger) read(id string) (*FileRecord, bool) {
	row, ok := l.rows[id]
	if !ok {
		return nil, false
	}
	row.OwnerName = l.owners[row.OwnerID]
	return &row, true
}

func (l *memLedger) Get(_ context.Context, id, unitID string) (*FileRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.read(id)
	if !ok || rec.UnitID != unitID {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (l *memLedger) GetByID(_ context.Context, id string) (*FileRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.read(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (l *memLedger) ListByUnit(_ context.Context, unitID string) ([]*FileRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*FileRecord
	for id := range l.rows {
		if rec, _ := l.read(id); rec.UnitID == unitID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *memLedger) Delete(_ context.Context, id, unitID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok || row.UnitID != unitID {
		return ErrNotFound
	}
	delete(l.rows, id)
	return nil
}

func (l *memLedger) SetAnalyzed(_ context.Context, id, unitID string, analyzed bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok || row.UnitID != unitID {
		return ErrNotFound
	}
	row.Analyzed = analyzed
	l.rows[id] = row
	return nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

type memUnits map[string]bool

func (u memUnits) Exists(_ context.Context, id string) (bool, error) {
	return u[id], nil
}

type deleteCall struct {
	logicalID, path string
}

// memStore simulates a remote object store: object keys and URLs always differ.
type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	failOn    int // 1-based upload number that fails; 0 never
	deleteErr error
	deletes   []deleteCall
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) UploadFile(_ context.Context, logicalID string, content io.Reader, _ int64, _ string) (storage.StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.uploads == s.failOn {
		return storage.StoredObject{}, errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return storage.StoredObject{}, err
	}
	key := "files/" + logicalID
	s.objects[key] = data
	return storage.StoredObject{
		Path:     key,
		URL:      "https://cdn.example.com/docs/" + key,
		Provider: storage.ProviderMinio,
	}, nil
}

func (s *memStore) DeleteFile(_ context.Context, logicalID, physicalPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, deleteCall{logicalID: logicalID, path: physicalPath})
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, physicalPath)
	return nil
}

func (s *memStore) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// stepClock returns strictly increasing timestamps.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}
