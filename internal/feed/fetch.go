// Package feed fetches external iCalendar feeds, parses their events and
// classifies them into reserved and blocked segments.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"staycal/api/internal/calendar"
	"staycal/api/internal/log"
)

const maxFeedBytes = 10 << 20

// Source is one room's feed subscription.
type Source struct {
	RoomID string
	URL    string
}

// Result is the outcome of fetching a single source.
type Result struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// CachedFeed is the last good body of a feed and its HTTP validators.
type CachedFeed struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Body         []byte    `json:"body"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Cache keeps feed bodies between fetches. Lookups of a missing feed return
// ok=false and no error.
type Cache interface {
	Get(ctx context.Context, feedURL string) (CachedFeed, bool, error)
	Put(ctx context.Context, feedURL string, feed CachedFeed) error
}

// Fetcher downloads feeds with conditional requests. When a request fails
// and a cached body exists, the cached body is served instead.
type Fetcher struct {
	client   *http.Client
	cache    Cache
	maxBytes int64
	now      func() time.Time
}

// NewFetcher builds a fetcher. cache may be nil.
func NewFetcher(timeout time.Duration, cache Cache) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cache:    cache,
		maxBytes: maxFeedBytes,
		now:      time.Now,
	}
}

// WithClient replaces the HTTP client, mainly for tests.
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// Fetch downloads src. Failures without a cached fallback are
// ExternalFetch errors.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (Result, error) {
	if src.URL == "" {
		return Result{}, calendar.ExternalFetch("Calendar link is empty.", nil)
	}

	cached, hasCache := f.lookup(ctx, src)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Result{}, calendar.ExternalFetch("Invalid calendar link.", err)
	}
	req.Header.Set("Accept", "text/calendar")
	if hasCache {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	log.Debug("feed fetch start", "room_id", src.RoomID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		if hasCache {
			log.Error("feed fetch failed, using cached body", err, "room_id", src.RoomID, "url", redactURL(src.URL))
			return Result{Source: src, Body: cached.Body, FromCache: true}, nil
		}
		return Result{}, calendar.ExternalFetch("Could not fetch the external calendar.", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return Result{}, calendar.ExternalFetch("Could not fetch the external calendar.", fmt.Errorf("read feed body: %w", err))
		}
		if int64(len(body)) > f.maxBytes {
			return Result{}, calendar.ExternalFetch("The external calendar is too large.", fmt.Errorf("feed exceeds %d bytes", f.maxBytes))
		}
		f.store(ctx, src, CachedFeed{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			FetchedAt:    f.now().UTC(),
		})
		log.Info("feed fetch success", "room_id", src.RoomID, "url", redactURL(src.URL), "bytes", len(body))
		return Result{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if !hasCache {
			return Result{}, calendar.ExternalFetch("Could not fetch the external calendar.", errors.New("not modified without a cached body"))
		}
		log.Debug("feed not modified", "room_id", src.RoomID, "url", redactURL(src.URL))
		return Result{Source: src, Body: cached.Body, FromCache: true}, nil

	default:
		statusErr := fmt.Errorf("unexpected status %s", resp.Status)
		if hasCache {
			log.Error("feed fetch non-OK, using cached body", statusErr, "room_id", src.RoomID, "url", redactURL(src.URL))
			return Result{Source: src, Body: cached.Body, FromCache: true}, nil
		}
		return Result{}, calendar.ExternalFetch("Could not fetch the external calendar.", statusErr)
	}
}

func (f *Fetcher) lookup(ctx context.Context, src Source) (CachedFeed, bool) {
	if f.cache == nil {
		return CachedFeed{}, false
	}
	cached, ok, err := f.cache.Get(ctx, src.URL)
	if err != nil {
		log.Error("feed cache read failed", err, "room_id", src.RoomID)
		return CachedFeed{}, false
	}
	return cached, ok && len(cached.Body) > 0
}

func (f *Fetcher) store(ctx context.Context, src Source, feed CachedFeed) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Put(ctx, src.URL, feed); err != nil {
		log.Error("feed cache save failed", err, "room_id", src.RoomID)
	}
}

// redactURL keeps scheme and host only. Feed links carry private tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "feed://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
