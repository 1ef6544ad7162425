// Package external contains clients for outside reference services.
package external

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/variant-curation-server/internal/domain"
)

// phenotypicSeriesPattern matches phenotypic series links on an OMIM
// entry page.
var phenotypicSeriesPattern = regexp.MustCompile(`/phenotypicSeries/([a-zA-Z0-9]+)`)

// OMIMClient resolves OMIM entry numbers to phenotypic series IDs by
// scraping the entry page. OMIM throttles aggressively, so requests
// are rate limited and guarded by a circuit breaker, with results
// cached when a cache client is configured.
type OMIMClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cache      *CacheClient
	retryCount int
	cacheTTL   time.Duration
	log        *logrus.Logger
}

// NewOMIMClient creates a new OMIM client. cache may be nil to disable
// caching.
func NewOMIMClient(config domain.OMIMConfig, cache *CacheClient, logger *logrus.Logger) *OMIMClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "OMIM",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = 1
	}
	retryCount := config.RetryCount
	if retryCount <= 0 {
		retryCount = 1
	}

	return &OMIMClient{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(rateLimit), 1),
		breaker:    breaker,
		cache:      cache,
		retryCount: retryCount,
		cacheTTL:   config.CacheTTL,
		log:        logger,
	}
}

// PhenotypicSeriesID returns the phenotypic series ID linked from the
// OMIM entry, or "" when the entry is not part of a series.
func (c *OMIMClient) PhenotypicSeriesID(ctx context.Context, omimNumber string) (string, error) {
	if c.cache != nil {
		if series, hit, err := c.cache.GetPhenotypicSeries(ctx, omimNumber); err == nil && hit {
			return series, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.retryCount; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetchSeries(ctx, omimNumber)
		})
		if err != nil {
			lastErr = err
			continue
		}

		series := result.(string)
		if c.cache != nil {
			if err := c.cache.SetPhenotypicSeries(ctx, omimNumber, series, c.cacheTTL); err != nil {
				c.log.WithError(err).Debug("Failed to cache phenotypic series")
			}
		}
		return series, nil
	}

	return "", fmt.Errorf("resolving phenotypic series for %s: %w", omimNumber, lastErr)
}

func (c *OMIMClient) fetchSeries(ctx context.Context, omimNumber string) (string, error) {
	entryURL := fmt.Sprintf("%sentry/%s", c.baseURL, omimNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entryURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating entry request: %w", err)
	}
	// OMIM rejects requests without a browser-like user agent
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; variant-curation-server)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching entry page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("entry page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading entry page: %w", err)
	}

	match := phenotypicSeriesPattern.FindSubmatch(body)
	if match == nil {
		return "", nil
	}
	return string(match[1]), nil
}
