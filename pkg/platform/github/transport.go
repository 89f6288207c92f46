package github

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/fetch/pkg/cache"
	"github.com/cuemby/fetch/pkg/log"
	"github.com/cuemby/fetch/pkg/metrics"
)

// cachingTransport implements spec.md §4.6's API caching contract: every
// platform GET goes through the Cache using conditional requests;
// successful responses (<400) are long-cached, 4xx are short-cached, and
// a 304 reuses the last cached payload rather than being treated as an
// error (spec.md §9).
//
// It also implements the rate-limit handling of spec.md §4.6: on a 403
// with a zero remaining-quota header, poll the quota endpoint until
// quota is available, then retry — bounded (spec.md §9's Open Question
// decision) rather than infinite.
type cachingTransport struct {
	cache        *cache.Cache
	next         http.RoundTripper
	warnOnce     sync.Once
	rateLimited  func(ctx context.Context) (remaining int, err error)
}

const (
	rateLimitPollInterval = 60 * time.Second
	rateLimitMaxPolls     = 10
)

func (t *cachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || t.cache == nil {
		return t.roundTripWithRateLimit(req)
	}

	key := req.URL.String()
	entry, err := t.cache.Get(key)
	if err == nil && entry != nil {
		req.Header.Set("If-Modified-Since", entry.Date.Format(http.TimeFormat))
	}

	resp, err := t.roundTripWithRateLimit(req)
	if err != nil {
		return nil, err
	}
	metrics.PlatformRequestsTotal.WithLabelValues("github", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified && entry != nil {
		metrics.CacheHitsTotal.Inc()
		resp.Body.Close()
		return replayResponse(resp, entry.Payload, entry.Status), nil
	}
	metrics.CacheMissesTotal.Inc()

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	date := time.Now()
	if d, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
		date = d
	}
	_ = t.cache.Put(key, body, date, resp.StatusCode)

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func replayResponse(base *http.Response, payload []byte, status int) *http.Response {
	r := *base
	r.StatusCode = status
	r.Status = http.StatusText(status)
	r.Body = io.NopCloser(bytes.NewReader(payload))
	r.ContentLength = int64(len(payload))
	return &r
}

// roundTripWithRateLimit performs the request, and on a 403 with a
// present-and-zero X-RateLimit-Remaining header, polls until quota frees
// up (or rateLimitMaxPolls is exhausted) before retrying once.
func (t *cachingTransport) roundTripWithRateLimit(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusForbidden {
		return resp, err
	}

	remainingHdr := resp.Header.Get("X-RateLimit-Remaining")
	if remainingHdr == "" {
		// No rate-limit header: surface the 403 as-is (Open Question
		// decision: "surfaced as an error").
		return resp, nil
	}
	remaining, convErr := strconv.Atoi(remainingHdr)
	if convErr == nil {
		metrics.PlatformRateLimitRemaining.WithLabelValues("github").Set(float64(remaining))
	}
	if convErr != nil || remaining != 0 {
		return resp, nil
	}
	resp.Body.Close()

	t.warnOnce.Do(func() {
		log.WithComponent("platform/github").Warn().Msg("rate limit exhausted, waiting for quota")
	})

	if t.rateLimited == nil {
		return resp, nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(rateLimitPollInterval), rateLimitMaxPolls)
	err = backoff.Retry(func() error {
		remaining, err := t.rateLimited(req.Context())
		if err != nil {
			return err
		}
		if remaining <= 0 {
			return errStillLimited
		}
		return nil
	}, b)
	if err != nil {
		return resp, nil
	}

	return t.next.RoundTrip(req)
}

var errStillLimited = errQuotaExhausted("rate limit quota still exhausted")

type errQuotaExhausted string

func (e errQuotaExhausted) Error() string { return string(e) }
