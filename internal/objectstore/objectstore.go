package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the named object does not exist.
var ErrNotFound = errors.New("object not found")

// MaxObjectSize caps the bytes read from any backend.
const MaxObjectSize = 20 << 20

// Store holds uploaded textbook binaries.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte, contentType string) (url string, err error)
	Delete(ctx context.Context, name string) error
}

// Options selects and configures a backend.
type Options struct {
	Backend        string // local, supabase or gcs
	Bucket         string
	LocalDir       string
	SupabaseURL    string
	SupabaseKey    string
	GCSCredentials string
}

// Open returns the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "local":
		return NewLocal(opts.LocalDir)
	case "supabase":
		if opts.SupabaseURL == "" || opts.SupabaseKey == "" {
			return nil, fmt.Errorf("supabase object store needs supabase_url and supabase_key")
		}
		return NewSupabase(opts.SupabaseURL, opts.SupabaseKey, opts.Bucket), nil
	case "gcs":
		return NewGCS(ctx, opts.Bucket, opts.GCSCredentials)
	default:
		return nil, fmt.Errorf("unknown object store backend %q", opts.Backend)
	}
}

// ValidName rejects empty names and path traversal.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("object name is empty")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "..") || strings.Contains(name, "\\") {
		return fmt.Errorf("invalid object name %q", name)
	}
	return nil
}
