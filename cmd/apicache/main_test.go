package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/apicache/common"
	"github.com/guarzo/apicache/common/model"
)

func writeConfig(t *testing.T, baseURL, extra string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
log: {level: error}
cache: {max_age: 1m, max_size: 10}
client: {base_url: %q, timeout: 1s, retry_attempts: 1}
auth: {access_token: abc}
%s`, baseURL, extra)
	path := filepath.Join(t.TempDir(), "apicache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRun_FetchesEndpointsAndUsesCache(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer ts.Close()

	path := writeConfig(t, ts.URL, `
endpoints:
  - path: /items
    use_cache: true
  - path: /missing
`)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", path, "-rounds", "2"}, &stdout, &stderr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 4)

	var results []model.FetchResult
	for _, line := range lines {
		var r model.FetchResult
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		results = append(results, r)
	}
	assert.Empty(t, results[0].Error)
	assert.Equal(t, len(`{"ok":true}`), results[0].Bytes)
	assert.Contains(t, results[1].Error, "giving up after 1 attempts")

	// /items is fetched once then served from the cache; /missing hits the server both rounds
	assert.Equal(t, int32(3), hits.Load())
}

func TestRun_Collect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `[{"id":1},{"id":2}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer ts.Close()

	path := writeConfig(t, ts.URL, "")

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", path, "-collect", "/things"}, &stdout, &stderr))

	var items []model.Item
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].ID)
}

func TestRun_BadConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	require.Error(t, err)
}

func TestCredentials(t *testing.T) {
	assert.Nil(t, credentials(context.Background(), common.AuthConfig{}))

	static := credentials(context.Background(), common.AuthConfig{AccessToken: "abc"})
	require.NotNil(t, static)
	tok, ok := static.CurrentToken()
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"from-server","token_type":"bearer","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	cc := credentials(context.Background(), common.AuthConfig{TokenURL: tokenServer.URL, ClientID: "id", ClientSecret: "secret"})
	require.NotNil(t, cc)
	tok, ok = cc.CurrentToken()
	assert.True(t, ok)
	assert.Equal(t, "from-server", tok)
}
