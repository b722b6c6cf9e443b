// Package backupstore persists sealed backup payloads off-device and
// reports upload completion as a per-session event.
package backupstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

var (
	// ErrNotFound is returned when no backup exists under a name
	ErrNotFound = errors.New("backup not found")

	// ErrBackendUnavailable is returned when the backend cannot be reached
	ErrBackendUnavailable = errors.New("backup backend unavailable")
)

// Backend stores backup payloads by name
type Backend interface {
	Store(ctx context.Context, name string, data []byte) error
	Fetch(ctx context.Context, name string) ([]byte, error)
	Name() string
	LocationURI() string
}

// BackendFor creates a backend from a location URI.
//
// Supported schemes:
//   - vault://host:port/mount/path - Vault KV v2, ?tls=false for plain http
//   - file:///dir - local directory
func BackendFor(locationURI, vaultToken string, log *slog.Logger) (Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "backupstore")

	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid backup location %q: %w", locationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "vault":
		return newVaultFromURL(u, vaultToken, log)
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = u.Host + u.Path
		}
		return NewFileBackend(dir, log)
	default:
		return nil, fmt.Errorf("unsupported backup scheme: %s", u.Scheme)
	}
}

func newVaultFromURL(u *url.URL, token string, log *slog.Logger) (*VaultBackend, error) {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("vault backup location needs /mount/path, got %q", u.Path)
	}
	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}
	return NewVaultBackend(scheme+"://"+u.Host, token, parts[0], parts[1], log)
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid backup name %q", name)
	}
	return nil
}
