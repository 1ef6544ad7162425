package external

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variant-curation-server/internal/domain"
)

func testOMIMClient(baseURL string) *OMIMClient {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewOMIMClient(domain.OMIMConfig{
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		RateLimit:  100,
		RetryCount: 2,
	}, nil, logger)
}

func TestPhenotypicSeriesID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/entry/160500", r.URL.Path)
		fmt.Fprint(w, `<html><body>
			<a href="/phenotypicSeries/PS160500">Myotonic dystrophy</a>
		</body></html>`)
	}))
	defer server.Close()

	client := testOMIMClient(server.URL + "/")

	series, err := client.PhenotypicSeriesID(context.Background(), "160500")
	require.NoError(t, err)
	assert.Equal(t, "PS160500", series)
}

func TestPhenotypicSeriesIDNoSeries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>no series links here</body></html>`)
	}))
	defer server.Close()

	client := testOMIMClient(server.URL + "/")

	series, err := client.PhenotypicSeriesID(context.Background(), "123456")
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestPhenotypicSeriesIDRetriesAndFails(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testOMIMClient(server.URL + "/")

	_, err := client.PhenotypicSeriesID(context.Background(), "160500")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "160500")
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests), "failed lookups are retried")
}

func TestPhenotypicSeriesIDRecoversOnRetry(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `<a href="/phenotypicSeries/PS604169">series</a>`)
	}))
	defer server.Close()

	client := testOMIMClient(server.URL + "/")

	series, err := client.PhenotypicSeriesID(context.Background(), "604169")
	require.NoError(t, err)
	assert.Equal(t, "PS604169", series)
}
