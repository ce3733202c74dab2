// Package blob is the attachment storage collaborator. The core only keeps
// the object name returned by Upload; it never looks at file bytes.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"deptdocs/core/internal/domain"
	"github.com/google/uuid"
)

// Store uploads, downloads and removes attachment bytes.
type Store interface {
	Upload(ctx context.Context, name, mediaType string, size int64, r io.Reader) (string, error)
	Download(ctx context.Context, name string) (io.ReadCloser, error)
	Remove(ctx context.Context, name string) error
}

// DefaultMaxBytes bounds an upload when no policy limit is configured.
const DefaultMaxBytes int64 = 10 << 20

var DefaultAllowedTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
	"text/csv",
	"image/png",
	"image/jpeg",
}

// Policy limits what may be attached.
type Policy struct {
	MaxBytes     int64
	AllowedTypes []string
}

func DefaultPolicy() Policy {
	return Policy{MaxBytes: DefaultMaxBytes, AllowedTypes: DefaultAllowedTypes}
}

// Check rejects oversized files and media types outside the allow list with
// ValidationFailed. Parameters such as "; charset=utf-8" are ignored.
func (p Policy) Check(name, mediaType string, size int64) error {
	if strings.TrimSpace(name) == "" {
		return domain.ValidationFailed("file name is required", nil)
	}
	if size <= 0 {
		return domain.ValidationFailed("file is empty", map[string]any{"size": size})
	}
	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if size > limit {
		return domain.ValidationFailed(fmt.Sprintf("file exceeds %d bytes", limit), map[string]any{"size": size, "max": limit})
	}
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0]))
	allowed := p.AllowedTypes
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	for _, t := range allowed {
		if strings.EqualFold(t, base) {
			return nil
		}
	}
	return domain.ValidationFailed(fmt.Sprintf("file type %q is not allowed", mediaType), map[string]any{"mediaType": mediaType})
}

// ObjectName derives a unique storage key from a client file name.
func ObjectName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		clean = "file"
	}
	return uuid.NewString() + "-" + clean
}
