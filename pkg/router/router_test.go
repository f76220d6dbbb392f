package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExactRouteMatch(t *testing.T) {
	r := New()
	r.GET("/api/v1/runs", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("runs"))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/v1/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWildcardRouteMatchesSegment(t *testing.T) {
	r := New()
	r.GET("/api/v1/runs/*", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/v1/runs/abc-123")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTrailingWildcardMatchesDeepPaths(t *testing.T) {
	require.True(t, matchWildcardRoute("/swagger/index.html", "/swagger/*"))
	require.True(t, matchWildcardRoute("/swagger/doc/sub/page", "/swagger/*"))
	require.False(t, matchWildcardRoute("/other/index.html", "/swagger/*"))
}

func TestMiddleWildcardMatchesOneSegment(t *testing.T) {
	require.True(t, matchWildcardRoute("/api/v1/runs/abc/warnings", "/api/v1/runs/*/warnings"))
	require.False(t, matchWildcardRoute("/api/v1/runs/abc", "/api/v1/runs/*/warnings"))
}

func TestMostSpecificWildcardWins(t *testing.T) {
	r := New()
	r.GET("/api/v1/runs/*", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("run"))
	})
	r.GET("/api/v1/runs/*/warnings", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("warnings"))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/v1/runs/abc/warnings")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := make([]byte, 16)
	n, _ := resp.Body.Read(body)
	require.Equal(t, "warnings", string(body[:n]))
}

func TestUnknownPathIs404(t *testing.T) {
	r := New()
	r.GET("/known", func(w http.ResponseWriter, req *http.Request) {})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWrongMethodIs405(t *testing.T) {
	r := New()
	r.POST("/api/v1/refresh", func(w http.ResponseWriter, req *http.Request) {})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/v1/refresh")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
