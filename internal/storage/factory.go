package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/ClippyCDN/clippy/internal/storage/local"
	"github.com/ClippyCDN/clippy/internal/storage/minio"
	s3backend "github.com/ClippyCDN/clippy/internal/storage/s3"
)

// Backend variants.
const (
	KindLocal       = "local"
	KindObjectStore = "objectstore"
)

// Object store drivers.
const (
	DriverS3    = "s3"
	DriverMinio = "minio"
)

// Config selects and configures one backend variant.
type Config struct {
	Kind        string
	LocalPath   string
	ObjectStore ObjectStoreConfig
}

// ObjectStoreConfig holds S3-compatible connection settings.
type ObjectStoreConfig struct {
	Driver    string
	Endpoint  string
	Port      int
	UseSSL    bool
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

func (c ObjectStoreConfig) hostPort() string {
	if c.Port > 0 {
		return net.JoinHostPort(c.Endpoint, strconv.Itoa(c.Port))
	}
	return c.Endpoint
}

// New builds the configured driver and wraps it in a Storage.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	d, err := NewDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStorage(d), nil
}

// NewDriver creates the Driver for the configured variant.
func NewDriver(ctx context.Context, cfg Config) (Driver, error) {
	switch cfg.Kind {
	case KindLocal:
		return local.New(local.Config{RootPath: cfg.LocalPath, CreateDirs: true})
	case KindObjectStore:
		oc := cfg.ObjectStore
		switch oc.Driver {
		case DriverS3, "":
			return s3backend.NewBackend(ctx, s3backend.BackendConfig{
				Endpoint:  oc.hostPort(),
				Bucket:    oc.Bucket,
				AccessKey: oc.AccessKey,
				SecretKey: oc.SecretKey,
				Region:    oc.Region,
				UseSSL:    oc.UseSSL,
			})
		case DriverMinio:
			return minio.New(ctx, minio.Config{
				Endpoint:  oc.hostPort(),
				Bucket:    oc.Bucket,
				AccessKey: oc.AccessKey,
				SecretKey: oc.SecretKey,
				Region:    oc.Region,
				UseSSL:    oc.UseSSL,
			})
		default:
			return nil, fmt.Errorf("unknown object store driver: %s", oc.Driver)
		}
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Kind)
	}
}

// NewDriverFromJSON creates a Driver from a backend type string and JSON
// config, the format used by `clippy storage --backend-config`.
func NewDriverFromJSON(ctx context.Context, backendType string, raw json.RawMessage) (Driver, error) {
	switch backendType {
	case KindLocal:
		return local.NewFromJSON(raw)
	case DriverS3:
		return s3backend.NewBackendFromJSON(ctx, raw)
	case DriverMinio:
		return minio.NewFromJSON(ctx, raw)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}
