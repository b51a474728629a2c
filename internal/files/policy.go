package files

import (
	"fmt"
	"mime"
	"strings"

	"github.com/dustin/go-humanize"
)

// multipartOverhead covers part headers and boundaries on top of the file bytes.
const multipartOverhead = 64 << 10

// Policy holds the upload limits applied before anything is written.
type Policy struct {
	MaxBytes     int64 // per file; 0 disables the ceiling
	MaxFiles     int   // per request; 0 disables the count limit
	AllowedTypes map[string]struct{}
}

// NewPolicy builds a Policy from a size ceiling, a per-request file count and a MIME allow-list.
func NewPolicy(maxBytes int64, maxFiles int, allowed []string) Policy {
	p := Policy{MaxBytes: maxBytes, MaxFiles: maxFiles, AllowedTypes: make(map[string]struct{}, len(allowed))}
	for _, t := range allowed {
		p.AllowedTypes[normalizeType(t)] = struct{}{}
	}
	return p
}

// RequestLimit is the largest request body an upload may carry, or 0 when unbounded.
func (p Policy) RequestLimit() int64 {
	if p.MaxBytes <= 0 || p.MaxFiles <= 0 {
		return 0
	}
	return int64(p.MaxFiles)*p.MaxBytes + multipartOverhead
}

// CheckCount validates the number of files in one request.
func (p Policy) CheckCount(n int) error {
	if n == 0 {
		return &ValidationError{Reason: "no files provided"}
	}
	if p.MaxFiles > 0 && n > p.MaxFiles {
		return &ValidationError{Reason: fmt.Sprintf("too many files: %d (limit %d)", n, p.MaxFiles)}
	}
	return nil
}

// TooLarge is the error reported when a request body exceeds RequestLimit.
func (p Policy) TooLarge() error {
	return &ValidationError{Reason: fmt.Sprintf(
		"request body exceeds limit (%d files of %s)", p.MaxFiles, humanize.IBytes(uint64(p.MaxBytes)))}
}

// Check validates a single upload.
func (p Policy) Check(u Upload) error {
	if u.Size < 0 {
		return &ValidationError{Filename: u.Filename, Reason: "unknown file size"}
	}
	if p.MaxBytes > 0 && u.Size > p.MaxBytes {
		return &ValidationError{
			Filename: u.Filename,
			Reason:   fmt.Sprintf("file size exceeds limit (%s)", humanize.IBytes(uint64(p.MaxBytes))),
		}
	}
	if _, ok := p.AllowedTypes[normalizeType(u.ContentType)]; !ok {
		return &ValidationError{
			Filename: u.Filename,
			Reason:   fmt.Sprintf("unsupported file type %q", u.ContentType),
		}
	}
	return nil
}

// normalizeType strips parameters and case from a media type.
func normalizeType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(t))
}
