// Package file owns the lifecycle of ingested media records: classification
// of uploads, construction of their database records (including derived
// duration and thumbnail assets), retrieval, and removal.
package file

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type FileType string

const (
	Photo FileType = "photo"
	Video FileType = "video"
	Audio FileType = "audio"
)

// FileTypeFromMime maps an uploads original MIME type to its stored file
// type. Anything that is not an image or a video is treated as audio; this is
// a documented catch-all default rather than a verified audio check, and
// callers are expected to pre-filter unsupported types at the upload
// boundary. The mapping is total - every input yields a type.
func FileTypeFromMime(mimeType string) FileType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return Photo
	case strings.HasPrefix(mimeType, "video/"):
		return Video
	default:
		return Audio
	}
}

// File is the persisted record of a single ingested media binary. Duration
// is populated for video and audio only, and only once extraction has
// succeeded; a photo record always carries a nil duration.
type File struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Path      string    `db:"path" json:"path"`
	Type      FileType  `db:"file_type" json:"file_type"`
	Duration  *int      `db:"duration" json:"duration,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
