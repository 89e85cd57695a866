// Package postgres provides the PostgreSQL-backed metadata store for files
// and their thumbnails.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/ClippyCDN/clippy/internal/files"
	"github.com/ClippyCDN/clippy/internal/logging"
	"github.com/ClippyCDN/clippy/internal/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a PostgreSQL metadata store.
type Store struct {
	db *sql.DB
}

// New opens and pings the database.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{log: logging.Named("migrations")})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// gooseLogger forwards goose output to zap.
type gooseLogger struct {
	log *zap.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs at error and leaves exiting to the caller.
func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

const fileColumns = `id, user_id, name, extension, mime_type, size, has_thumbnail, created_at`

func scanFile(row interface{ Scan(...any) error }) (files.File, error) {
	var f files.File
	err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.Extension, &f.MimeType, &f.Size, &f.HasThumbnail, &f.CreatedAt)
	return f, err
}

// ListFilesWithoutThumbnail returns image and video files that have no
// thumbnail yet, oldest first.
func (s *Store) ListFilesWithoutThumbnail(ctx context.Context) ([]files.File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_files_without_thumbnail", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+`
		 FROM files
		 WHERE has_thumbnail = FALSE
		   AND (mime_type LIKE 'image/%' OR mime_type LIKE 'video/%')
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query files without thumbnail: %w", err)
	}
	defer rows.Close()

	var result []files.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// MarkThumbnailCreated records the thumbnail row and sets has_thumbnail on
// the file in one transaction. Repeating it for the same file replaces the
// thumbnail row.
func (s *Store) MarkThumbnailCreated(ctx context.Context, t files.Thumbnail) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("mark_thumbnail_created", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO thumbnails (id, user_id, extension, size)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET extension = EXCLUDED.extension, size = EXCLUDED.size, created_at = NOW()`,
		t.FileID, t.OwnerID, t.Extension, t.Size)
	if err != nil {
		return fmt.Errorf("insert thumbnail %s: %w", t.FileID, err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE files SET has_thumbnail = TRUE WHERE id = $1`, t.FileID)
	if err != nil {
		return fmt.Errorf("update file %s: %w", t.FileID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update file %s: %w", t.FileID, sql.ErrNoRows)
	}

	return tx.Commit()
}

// GetFile returns a file by id, or nil when it does not exist.
func (s *Store) GetFile(ctx context.Context, id string) (*files.File, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_file", time.Since(start)) }()

	f, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	return &f, nil
}

// CreateFile inserts a file record.
func (s *Store) CreateFile(ctx context.Context, f files.File) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_file", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, user_id, name, extension, mime_type, size, has_thumbnail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.OwnerID, f.Name, f.Extension, f.MimeType, f.Size, f.HasThumbnail)
	if err != nil {
		return fmt.Errorf("insert file %s: %w", f.ID, err)
	}
	return nil
}
