// Package thumbnail derives preview images for image and video uploads.
//
// Worker is the queue.Source behind the "thumbnails" queue: it lists files
// that still lack a thumbnail, renders one through a Codec, stores it next to
// the original and records the result in the metadata store.
package thumbnail

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ClippyCDN/clippy/internal/files"
	"github.com/ClippyCDN/clippy/internal/logging"
	"github.com/ClippyCDN/clippy/internal/queue"
)

// QueueName is the name of the thumbnail queue in logs, metrics and stats.
const QueueName = "thumbnails"

var (
	ErrUnsupportedMimeType = fmt.Errorf("unsupported mime type: %w", queue.ErrPermanent)
	ErrMissingSource       = fmt.Errorf("source object missing: %w", queue.ErrPermanent)
	ErrSaveFailed          = errors.New("thumbnail save failed")
)

// Store is the metadata the worker reads and updates.
type Store interface {
	// ListFilesWithoutThumbnail returns image/* and video/* files whose
	// thumbnail has not been created.
	ListFilesWithoutThumbnail(ctx context.Context) ([]files.File, error)
	// MarkThumbnailCreated records the thumbnail and flags the file.
	MarkThumbnailCreated(ctx context.Context, t files.Thumbnail) error
}

// Objects is the part of storage.Storage the worker needs.
type Objects interface {
	GetBuffer(ctx context.Context, key string) []byte
	Save(ctx context.Context, key string, data []byte) bool
	Delete(ctx context.Context, key string) bool
}

// Worker generates thumbnails.
type Worker struct {
	store   Store
	objects Objects
	codec   Codec
	log     *zap.Logger
}

// NewWorker creates a thumbnail worker.
func NewWorker(store Store, objects Objects, codec Codec) *Worker {
	return &Worker{
		store:   store,
		objects: objects,
		codec:   codec,
		log:     logging.Named("thumbnail"),
	}
}

// NewQueue wraps w in a scheduler.
func NewQueue(w *Worker, opts queue.Options) *queue.Queue[files.File] {
	return queue.New[files.File](QueueName, w, opts)
}

// LoadPending lists the files that still need a thumbnail.
func (w *Worker) LoadPending(ctx context.Context) ([]files.File, error) {
	pending, err := w.store.ListFilesWithoutThumbnail(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files without thumbnail: %w", err)
	}
	return pending, nil
}

// Process renders, stores and records the thumbnail for one file.
func (w *Worker) Process(ctx context.Context, f files.File) error {
	if !f.IsMedia() {
		return fmt.Errorf("%w: %s", ErrUnsupportedMimeType, f.MimeType)
	}
	srcKey, err := files.Path(f)
	if err != nil {
		return fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}
	thumbKey, err := files.ThumbnailPath(f)
	if err != nil {
		return fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}

	name := f.DisplayName()
	w.log.Info("processing thumbnail", zap.String("file", name), zap.String("file_id", f.ID))

	src := w.objects.GetBuffer(ctx, srcKey)
	if src == nil {
		return fmt.Errorf("%w: %s", ErrMissingSource, srcKey)
	}

	thumb, err := w.codec.Thumbnail(ctx, name, src, f.MimeType)
	if err != nil {
		return fmt.Errorf("render thumbnail for %s: %w", name, err)
	}

	if !w.objects.Save(ctx, thumbKey, thumb.Data) {
		// Clear whatever a partial write may have left.
		w.objects.Delete(ctx, thumbKey)
		return fmt.Errorf("%w: %s", ErrSaveFailed, thumbKey)
	}

	err = w.store.MarkThumbnailCreated(ctx, files.Thumbnail{
		FileID:    f.ID,
		OwnerID:   f.OwnerID,
		Extension: thumb.Extension,
		Size:      thumb.Size,
	})
	if err != nil {
		return fmt.Errorf("record thumbnail for %s: %w", name, err)
	}

	w.log.Debug("thumbnail stored",
		zap.String("key", thumbKey),
		zap.Int64("size", thumb.Size),
		zap.Int("width", thumb.Width),
		zap.Int("height", thumb.Height))
	return nil
}
