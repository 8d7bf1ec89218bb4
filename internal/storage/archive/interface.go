// Package archive stores run artifacts (result JSON, ledger CSV) on a
// filesystem or an S3-compatible bucket.
package archive

import (
	"context"

	"github.com/newthinker/tpsl/internal/core"
)

// Storage defines the interface for artifact storage backends
type Storage interface {
	// Write stores data at the given path
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path; missing paths return core.ErrNotFound
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths under the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	Delete(ctx context.Context, path string) error

	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects and configures a backend.
type Config struct {
	Type string   `mapstructure:"type"` // "local" or "s3"
	Path string   `mapstructure:"path"`
	S3   S3Config `mapstructure:"s3"`
}

// New builds the backend named by cfg.Type.
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "local", "":
		path := cfg.Path
		if path == "" {
			path = "artifacts"
		}
		return NewLocalFS(path)
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, core.Errorf(core.ErrConfigMissing, "archive.s3.bucket is required")
		}
		return NewS3(cfg.S3)
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown archive type %q", cfg.Type)
	}
}
