package remote

import (
	"context"
	"fmt"
	"net/url"

	"github.com/zawalid/watchfolio/internal/config"
)

// NewBackendFromConfig creates the Backend selected by cfg.Type.
// A "none" (or empty) type returns a nil Backend: the library stays local-only.
func NewBackendFromConfig(ctx context.Context, cfg config.RemoteConfig) (Backend, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryBackend(), nil
	case "libsql":
		dsn, err := libSQLDSN(cfg.LibSQLURL, cfg.LibSQLAuthToken)
		if err != nil {
			return nil, err
		}
		return OpenLibSQL(ctx, dsn)
	case "s3":
		return NewS3Backend(ctx, S3Options{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}

// libSQLDSN appends the auth token to the database URL unless it already
// carries one.
func libSQLDSN(rawURL, token string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("libsql remote requires a url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid libsql url: %w", err)
	}
	if token != "" {
		q := u.Query()
		if q.Get("authToken") == "" {
			q.Set("authToken", token)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}
