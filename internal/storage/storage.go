package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ClippyCDN/clippy/internal/logging"
	"github.com/ClippyCDN/clippy/internal/metrics"
)

// Storage is the byte-oriented storage contract used by the rest of the
// service. Every method catches driver faults, logs them and returns a
// failure sentinel (false or nil); no error crosses this boundary.
type Storage struct {
	driver Driver
	name   string
	log    *zap.Logger
}

// NewStorage wraps a driver.
func NewStorage(d Driver) *Storage {
	return &Storage{
		driver: d,
		name:   d.Type(),
		log:    logging.Named("storage").With(zap.String("backend", d.Type())),
	}
}

// Type returns the underlying driver type.
func (s *Storage) Type() string { return s.name }

// Close releases the driver.
func (s *Storage) Close() error { return s.driver.Close() }

// Save writes a buffer to key.
func (s *Storage) Save(ctx context.Context, key string, data []byte) bool {
	return s.SaveStream(ctx, key, bytes.NewReader(data), int64(len(data)))
}

// SaveStream writes size bytes read from r to key. The size is required up
// front because object stores need the content length before the upload.
func (s *Storage) SaveStream(ctx context.Context, key string, r io.Reader, size int64) bool {
	if size < 0 {
		s.log.Error("save rejected: stream size is required", zap.String("key", key))
		return false
	}

	start := time.Now()
	err := s.driver.PutObject(ctx, key, r, size)
	s.observe("put_object", start, err)
	if err != nil {
		s.fault("save failed", key, err)
		return false
	}

	metrics.RecordStorageWrite(s.name, size)
	s.log.Debug("saved object", zap.String("key", key), zap.Int64("size", size))
	return true
}

// GetBuffer reads the full object at key. It returns nil when the object is
// missing or the read fails; an empty object yields a non-nil empty slice.
func (s *Storage) GetBuffer(ctx context.Context, key string) []byte {
	start := time.Now()
	rc, _, err := s.driver.GetObject(ctx, key, 0, 0)
	if err != nil {
		s.observe("get_object", start, err)
		s.fault("read failed", key, err)
		return nil
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	s.observe("get_object", start, err)
	if err != nil {
		s.fault("read body failed", key, err)
		return nil
	}
	return data
}

// GetStream opens a sequential reader over the full object. The caller must
// close it. Returns nil when the object is missing or cannot be opened.
func (s *Storage) GetStream(ctx context.Context, key string) io.ReadCloser {
	start := time.Now()
	rc, _, err := s.driver.GetObject(ctx, key, 0, 0)
	s.observe("get_stream", start, err)
	if err != nil {
		s.fault("open stream failed", key, err)
		return nil
	}
	return rc
}

// GetRangeStream opens a reader over bytes start..end inclusive, matching
// HTTP "bytes=start-end" semantics. An end past the object is clamped.
func (s *Storage) GetRangeStream(ctx context.Context, key string, start, end int64) io.ReadCloser {
	if start < 0 || end < start {
		s.log.Warn("invalid byte range",
			zap.String("key", key),
			zap.Int64("start", start),
			zap.Int64("end", end))
		return nil
	}

	began := time.Now()
	rc, _, err := s.driver.GetObject(ctx, key, start, end-start+1)
	s.observe("get_range", began, err)
	if err != nil {
		s.fault("open range failed", key, err,
			zap.Int64("start", start),
			zap.Int64("end", end))
		return nil
	}
	return rc
}

// Delete removes key. Deleting a missing key succeeds.
func (s *Storage) Delete(ctx context.Context, key string) bool {
	start := time.Now()
	err := s.driver.DeleteObject(ctx, key)
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.observe("delete_object", start, err)
	if err != nil {
		s.fault("delete failed", key, err)
		return false
	}
	s.log.Debug("deleted object", zap.String("key", key))
	return true
}

// Rename moves oldKey to newKey. Drivers implementing Renamer move the
// object atomically; otherwise the object is copied and the old key deleted.
// Copy-then-delete is not crash safe: a failure between the two steps can
// leave both keys present, in which case Rename reports false.
func (s *Storage) Rename(ctx context.Context, oldKey, newKey string) bool {
	start := time.Now()
	if r, ok := s.driver.(Renamer); ok {
		err := r.RenameObject(ctx, oldKey, newKey)
		s.observe("rename_object", start, err)
		if err != nil {
			s.fault("rename failed", oldKey, err, zap.String("new_key", newKey))
			return false
		}
		return true
	}

	if err := s.driver.CopyObject(ctx, oldKey, newKey); err != nil {
		s.observe("rename_object", start, err)
		s.fault("rename copy failed", oldKey, err, zap.String("new_key", newKey))
		return false
	}
	if err := s.driver.DeleteObject(ctx, oldKey); err != nil && !errors.Is(err, ErrNotFound) {
		s.observe("rename_object", start, err)
		s.fault("rename delete failed, both keys present", oldKey, err, zap.String("new_key", newKey))
		return false
	}
	s.observe("rename_object", start, nil)
	return true
}

// Exists reports whether key is present. Faults report false.
func (s *Storage) Exists(ctx context.Context, key string) bool {
	_, ok := s.Size(ctx, key)
	return ok
}

// Size returns the object size and whether the object exists.
func (s *Storage) Size(ctx context.Context, key string) (int64, bool) {
	start := time.Now()
	size, err := s.driver.StatObject(ctx, key)
	s.observe("stat_object", start, err)
	if err != nil {
		s.fault("stat failed", key, err)
		return 0, false
	}
	return size, true
}

func (s *Storage) observe(op string, start time.Time, err error) {
	metrics.RecordStorageOperation(s.name, op, time.Since(start), err == nil || errors.Is(err, ErrNotFound))
}

// fault logs a driver error. Missing objects are expected and logged at debug.
func (s *Storage) fault(msg, key string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("key", key), zap.Error(err))
	if errors.Is(err, ErrNotFound) {
		s.log.Debug(msg+": not found", fields...)
		return
	}
	s.log.Error(msg, fields...)
}
