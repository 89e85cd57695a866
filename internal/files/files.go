// Package files describes uploaded files and where their bytes live in storage.
package files

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ThumbnailExtension is the extension of every generated thumbnail.
const ThumbnailExtension = "jpg"

// thumbnailDir holds an owner's thumbnails, so no file may use it as its id.
const thumbnailDir = "thumbnails"

// ErrInvalidID is returned by the key builders for ids that could address
// another owner's objects.
var ErrInvalidID = errors.New("invalid id")

// File is an uploaded file as recorded in the metadata store.
type File struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Name         string    `json:"name,omitempty"`
	Extension    string    `json:"extension"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	HasThumbnail bool      `json:"has_thumbnail"`
	CreatedAt    time.Time `json:"created_at"`
}

// ItemID identifies the file in the thumbnail queue.
func (f File) ItemID() string { return f.ID }

// DisplayName is the name used in log lines.
func (f File) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	if f.Extension == "" {
		return f.ID
	}
	return f.ID + "." + f.Extension
}

// IsMedia reports whether a thumbnail can be derived from the file.
func (f File) IsMedia() bool { return IsMediaType(f.MimeType) }

// IsMediaType reports whether mimeType is an image/* or video/* type.
func IsMediaType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/")
}

// Thumbnail is the record written once a thumbnail has been stored.
type Thumbnail struct {
	FileID    string `json:"file_id"`
	OwnerID   string `json:"owner_id"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
}

// Path returns the storage key of the original upload:
// <owner>/<id>.<extension>. File ids never contain a dot, so the key splits
// back into one id and extension.
func Path(f File) (string, error) {
	if err := checkIDs(f.OwnerID, f.ID); err != nil {
		return "", err
	}
	if err := checkFileID(f.ID); err != nil {
		return "", err
	}
	if strings.ContainsAny(f.Extension, `/\`) {
		return "", fmt.Errorf("%w: extension %q", ErrInvalidID, f.Extension)
	}
	if f.Extension == "" {
		return f.OwnerID + "/" + f.ID, nil
	}
	return f.OwnerID + "/" + f.ID + "." + f.Extension, nil
}

// ThumbnailPath returns the storage key of a file's thumbnail:
// <owner>/thumbnails/<id>.jpg.
func ThumbnailPath(f File) (string, error) {
	if err := checkIDs(f.OwnerID, f.ID); err != nil {
		return "", err
	}
	if err := checkFileID(f.ID); err != nil {
		return "", err
	}
	return f.OwnerID + "/" + thumbnailDir + "/" + f.ID + "." + ThumbnailExtension, nil
}

func checkIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}

func checkFileID(id string) error {
	if strings.Contains(id, ".") || id == thumbnailDir {
		return fmt.Errorf("%w: file id %q", ErrInvalidID, id)
	}
	return nil
}
