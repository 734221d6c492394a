package version

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
		{"0.1.0", "0.2.0", true},
		{"0.1.0", "0.1.0", false},
		{"1.2.0", "1.1.9", false},
		{"1.2", "1.2.1", true},
		{"v1.0.0", "1.0.1", true},
		{"1.0.0", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.current+"->"+tt.latest, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNewer(tt.current, tt.latest))
		})
	}
}

func TestCheckForUpdates(t *testing.T) {
	old := Version
	Version = "0.1.0"
	t.Cleanup(func() { Version = old })

	var tag string
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "aifred-version-checker", r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"tag_name":"` + tag + `","name":"release"}`))
	}))
	defer srv.Close()

	tag = "v0.3.0"
	latest, err := CheckForUpdates(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "0.3.0", latest)

	tag = "v0.1.0"
	latest, err = CheckForUpdates(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, latest)

	status = http.StatusNotFound
	latest, err = CheckForUpdates(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, latest)

	status = http.StatusForbidden
	_, err = CheckForUpdates(context.Background(), srv.Client(), srv.URL)
	assert.Error(t, err)
}
