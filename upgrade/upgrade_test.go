package upgrade

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewer(t *testing.T) {
	tests := []struct {
		current, latest string
		want            bool
	}{
		{"1.0.0", "1.0.1", true},
		{"v1.2.0", "v1.10.0", true},
		{"1.2.0", "1.2.0", false},
		{"2.0.0", "1.9.9", false},
		{"1.0.0-rc.1", "1.0.0", true},
		{"dev", "9.9.9", false},
		{"", "1.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.current+"->"+tt.latest, func(t *testing.T) {
			got, err := IsNewer(tt.current, tt.latest)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsNewerRejectsGarbage(t *testing.T) {
	_, err := IsNewer("1.0.0", "latest")
	assert.Error(t, err)
	_, err = IsNewer("one", "1.0.0")
	assert.Error(t, err)
}

func releaseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckFindsNewerRelease(t *testing.T) {
	srv := releaseServer(t, http.StatusOK, `{"tag_name":"v1.3.0","name":"1.3.0"}`)

	version, err := NewChecker(srv.URL, "1.2.0").Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", version)
}

func TestCheckCurrentOrPrerelease(t *testing.T) {
	srv := releaseServer(t, http.StatusOK, `{"tag_name":"v1.2.0"}`)
	version, err := NewChecker(srv.URL, "1.2.0").Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, version)

	srv = releaseServer(t, http.StatusOK, `{"tag_name":"v2.0.0-beta.1","prerelease":true}`)
	version, err = NewChecker(srv.URL, "1.2.0").Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, version)
}

func TestCheckReportsHTTPErrors(t *testing.T) {
	srv := releaseServer(t, http.StatusForbidden, "rate limited\n")

	_, err := NewChecker(srv.URL, "1.2.0").Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "rate limited")
}
