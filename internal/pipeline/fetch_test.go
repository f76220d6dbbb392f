package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"epiviz-pipeline/internal/model"

	"github.com/stretchr/testify/require"
)

func jsonServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPrimarySuccess(t *testing.T) {
	primary := jsonServer(t, `[{"state":"TX","cases":"10"},{"state":"NM","cases":"4"}]`)

	var secondaryHits atomic.Int32
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryHits.Add(1)
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(secondary.Close)

	f := NewFetcher(5*time.Second, 0)
	src := model.DataSource{Name: "measles", Endpoints: []string{primary.URL, secondary.URL}}

	att := f.Fetch(context.Background(), src)
	require.True(t, att.Success())
	require.Equal(t, primary.URL, att.Endpoint)
	require.Len(t, att.Records, 2)
	require.Equal(t, "TX", att.Records[0]["state"])
	// The secondary endpoint is never consulted when the primary succeeds.
	require.Equal(t, int32(0), secondaryHits.Load())
}

func TestFetchFallsBackInOrder(t *testing.T) {
	primary := failingServer(t)
	secondary := jsonServer(t, `[{"state":"AZ","cases":"7"}]`)

	f := NewFetcher(5*time.Second, 0)
	src := model.DataSource{Name: "measles", Endpoints: []string{primary.URL, secondary.URL}}

	att := f.Fetch(context.Background(), src)
	require.True(t, att.Success())
	require.Equal(t, secondary.URL, att.Endpoint)
}

func TestFetchAllEndpointsExhausted(t *testing.T) {
	primary := failingServer(t)
	secondary := failingServer(t)

	f := NewFetcher(5*time.Second, 0)
	src := model.DataSource{Name: "measles", Endpoints: []string{primary.URL, secondary.URL}}

	att := f.Fetch(context.Background(), src)
	require.False(t, att.Success())
	require.ErrorIs(t, att.Err, ErrAllEndpointsExhausted)
}

func TestFetchValidationFailureIsEndpointFailure(t *testing.T) {
	srv := jsonServer(t, `[{"state":"TX"}]`)

	rules := &model.ValidationRules{MinRecords: 10}
	f := NewFetcher(5*time.Second, 0)
	src := model.DataSource{Name: "measles", Endpoints: []string{srv.URL}, Validate: rules.Validator()}

	att := f.Fetch(context.Background(), src)
	require.False(t, att.Success())
	require.ErrorIs(t, att.Err, ErrAllEndpointsExhausted)
}

func TestFetchTimeoutIsFailureNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(50*time.Millisecond, 0)
	src := model.DataSource{Name: "slow", Endpoints: []string{srv.URL}}

	att := f.Fetch(context.Background(), src)
	require.False(t, att.Success())
	require.ErrorIs(t, att.Err, ErrAllEndpointsExhausted)
}

func TestFetchNonJSONPayloadIsFailure(t *testing.T) {
	srv := jsonServer(t, `<html>not json</html>`)

	f := NewFetcher(5*time.Second, 0)
	src := model.DataSource{Name: "broken", Endpoints: []string{srv.URL}}

	att := f.Fetch(context.Background(), src)
	require.False(t, att.Success())
	var exhausted error = ErrAllEndpointsExhausted
	require.True(t, errors.Is(att.Err, exhausted))
}

func TestParseRecordsSingleObject(t *testing.T) {
	records, err := parseRecords([]byte(`{"state":"UT","cases":3}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "UT", records[0]["state"])
}
