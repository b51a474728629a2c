// Package files keeps the ledger of uploaded documents in sync with the storage
// backend that physically holds them.
package files

import (
	"encoding/json"
	"strings"
	"time"
)

// unknownUploader is shown when the owner has no display name.
const unknownUploader = "Unknown user"

// StorageMetadata records where a backend physically put a file when that location
// differs from the access URL.
type StorageMetadata struct {
	StorageProvider string `json:"storageProvider"`
	StoragePath     string `json:"storagePath"`
}

// FileRecord is one row of the files ledger.
type FileRecord struct {
	ID           string
	LogicalName  string // storage key handed to the backend
	OriginalName string // user-supplied filename, kept verbatim
	Size         int64
	MimeType     string
	AccessURL    string
	OwnerID      string
	OwnerName    string // filled by reads that join the owner
	UnitID       string
	Analyzed     bool
	Storage      *StorageMetadata // nil when the physical path equals AccessURL
	CreatedAt    time.Time
}

// PhysicalPath is the key used for backend deletion: the recorded storage path when
// present, otherwise the access URL.
func (f *FileRecord) PhysicalPath() string {
	if f.Storage != nil && f.Storage.StoragePath != "" {
		return f.Storage.StoragePath
	}
	return f.AccessURL
}

// Descriptor is the API representation of a file.
type Descriptor struct {
	ID         string    `json:"id"          example:"0f8e5c1e-2a4b-4f5d-9d11-3c9e7f0a1b2c"`
	Filename   string    `json:"filename"    example:"balance-sheet-2025.pdf"`
	Size       int64     `json:"size"        example:"482113"`
	Type       string    `json:"type"        example:"application/pdf"`
	URL        string    `json:"url"         example:"/uploads/0f8e5c1e-2a4b-4f5d-9d11-3c9e7f0a1b2c.pdf"`
	CreatedAt  time.Time `json:"createdAt"   example:"2026-02-27T14:48:34Z"`
	UploadedBy string    `json:"uploadedBy,omitempty" example:"Jane Auditor"`
	IsAnalyzed bool      `json:"isAnalyzed"`
}

// Descriptor converts the record for API output. withOwner adds the uploader name.
func (f *FileRecord) Descriptor(withOwner bool) Descriptor {
	d := Descriptor{
		ID:         f.ID,
		Filename:   f.OriginalName,
		Size:       f.Size,
		Type:       f.MimeType,
		URL:        f.AccessURL,
		CreatedAt:  f.CreatedAt,
		IsAnalyzed: f.Analyzed,
	}
	if withOwner {
		d.UploadedBy = f.OwnerName
		if strings.TrimSpace(d.UploadedBy) == "" {
			d.UploadedBy = unknownUploader
		}
	}
	return d
}

// encodeMetadata serializes m for the opaque metadata column. nil stays NULL.
func encodeMetadata(m *StorageMetadata) *string {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// decodeMetadata parses the metadata column. Malformed or empty blobs yield nil.
func decodeMetadata(raw *string) *StorageMetadata {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	var m StorageMetadata
	if err := json.Unmarshal([]byte(*raw), &m); err != nil || m.StoragePath == "" {
		return nil
	}
	return &m
}
