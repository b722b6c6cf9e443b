package backupstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "backups")

	b, err := NewFileBackend(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "file://"+dir, b.LocationURI())

	require.NoError(t, b.Store(ctx, "alice.json", []byte(`{"a":1}`)))
	got, err := b.Fetch(ctx, "alice.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, b.Store(ctx, "alice.json", []byte(`{"a":2}`)))
	got, err = b.Fetch(ctx, "alice.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(got))

	_, err = b.Fetch(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, name := range []string{"", "../x", "a/b"} {
		assert.Error(t, b.Store(ctx, name, []byte("x")), name)
	}
}

// fakeVault serves the KV v2 read and write endpoints
type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
	token   string
}

func newFakeVault(t *testing.T) (*fakeVault, *httptest.Server) {
	fv := &fakeVault{secrets: make(map[string]map[string]interface{})}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fv.mu.Lock()
		defer fv.mu.Unlock()
		fv.token = r.Header.Get("X-Vault-Token")
		path := strings.TrimPrefix(r.URL.Path, "/v1/")

		switch r.Method {
		case http.MethodPut, http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			var in map[string]interface{}
			if err := json.Unmarshal(body, &in); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fv.secrets[path] = in["data"].(map[string]interface{})
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"version":1}}`))
		case http.MethodGet:
			data, ok := fv.secrets[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"errors":[]}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{"data": data, "metadata": map[string]interface{}{"version": 1}},
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return fv, srv
}

func TestVaultBackend(t *testing.T) {
	ctx := context.Background()
	fv, srv := newFakeVault(t)

	b, err := BackendFor("vault://"+strings.TrimPrefix(srv.URL, "http://")+"/secret/backups?tls=false", "root-token", nil)
	require.NoError(t, err)
	assert.Equal(t, "vault-secret-backups", b.Name())

	require.NoError(t, b.Store(ctx, "bob.json", []byte("payload")))

	fv.mu.Lock()
	stored, ok := fv.secrets["secret/data/backups/bob.json"]
	token := fv.token
	fv.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "cGF5bG9hZA==", stored["content"])
	assert.Equal(t, "root-token", token)

	got, err := b.Fetch(ctx, "bob.json")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	_, err = b.Fetch(ctx, "nobody.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackendFor(t *testing.T) {
	dir := t.TempDir()

	b, err := BackendFor("file://"+dir, "", nil)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	tests := []struct {
		name string
		uri  string
	}{
		{"unknown scheme", "s3://bucket/path"},
		{"vault without path", "vault://127.0.0.1:8200/secret"},
		{"vault without token", "vault://127.0.0.1:8200/secret/backups"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BackendFor(tt.uri, "", nil)
			assert.Error(t, err)
		})
	}
}
