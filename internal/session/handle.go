package session

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/govscout/crawlworker/internal/crawler"
)

// Handle is one invocation's view of a target session. It wraps a colly
// collector whose cookie jar is mutated only through fetches performed by
// the Manager. A Handle must not be shared across goroutines.
type Handle struct {
	targetID  string
	collector *colly.Collector
	headers   map[string]string

	// origins records every scheme://host touched so Snapshot knows which
	// jar entries to serialize.
	origins map[string]bool

	start        time.Time
	lastURL      string
	lastStatus   int
	lastHeaders  http.Header
	lastBody     []byte
	lastErr      error
	lastDuration time.Duration
}

// TargetID names the crawl target this handle belongs to.
func (h *Handle) TargetID() string { return h.targetID }

func (h *Handle) installHooks() {
	h.collector.OnRequest(func(r *colly.Request) {
		h.start = time.Now()
		h.origins[originOf(r.URL)] = true
		for k, v := range h.headers {
			if r.Headers.Get(k) == "" {
				r.Headers.Set(k, v)
			}
		}
	})
	h.collector.OnResponse(func(r *colly.Response) {
		h.lastURL = r.Request.URL.String()
		h.lastStatus = r.StatusCode
		h.lastHeaders = r.Headers.Clone()
		h.lastBody = append([]byte(nil), r.Body...)
		h.lastDuration = time.Since(h.start)
		h.origins[originOf(r.Request.URL)] = true
	})
	h.collector.OnError(func(r *colly.Response, err error) {
		h.lastErr = err
		if r != nil {
			h.lastStatus = r.StatusCode
			if r.Headers != nil {
				h.lastHeaders = r.Headers.Clone()
			}
			if r.Request != nil && r.Request.URL != nil {
				h.lastURL = r.Request.URL.String()
			}
		}
	})
}

func (h *Handle) reset() {
	h.lastURL = ""
	h.lastStatus = 0
	h.lastHeaders = nil
	h.lastBody = nil
	h.lastErr = nil
	h.lastDuration = 0
}

// seed loads cookies and headers from a durable snapshot. Snapshots with an
// unknown version are skipped, not fatal: a newer writer must not brick
// older readers, the session simply starts cold.
func (h *Handle) seed(prior *crawler.SessionSnapshot) error {
	if prior.Version != crawler.SnapshotVersion {
		return nil
	}
	byOrigin := make(map[string][]*http.Cookie)
	for _, sc := range prior.Cookies {
		if sc.Domain == "" {
			continue
		}
		origin := "https://" + sc.Domain
		byOrigin[origin] = append(byOrigin[origin], &http.Cookie{
			Name:     sc.Name,
			Value:    sc.Value,
			Domain:   sc.Domain,
			Path:     sc.Path,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HTTPOnly,
		})
	}
	for origin, cookies := range byOrigin {
		if err := h.collector.SetCookies(origin, cookies); err != nil {
			return fmt.Errorf("seed cookies for %s: %w", origin, err)
		}
		h.origins[origin] = true
	}
	for k, v := range prior.Headers {
		h.headers[k] = v
	}
	return nil
}

// Snapshot serializes the handle's cookie jar and derived headers into a
// versioned blob suitable for the session store.
func (h *Handle) Snapshot(now time.Time) crawler.SessionSnapshot {
	snap := crawler.SessionSnapshot{
		Version:  crawler.SnapshotVersion,
		TargetID: h.targetID,
		Headers:  h.headers,
		SavedAt:  now,
	}
	seen := make(map[string]bool)
	for origin := range h.origins {
		host := hostOf(origin)
		for _, c := range h.collector.Cookies(origin) {
			domain := c.Domain
			if domain == "" {
				domain = host
			}
			key := c.Name + "\x00" + domain + "\x00" + c.Path
			if seen[key] {
				continue
			}
			seen[key] = true
			snap.Cookies = append(snap.Cookies, crawler.SessionCookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   domain,
				Path:     c.Path,
				Expires:  c.Expires,
				Secure:   c.Secure,
				HTTPOnly: c.HttpOnly,
			})
		}
	}
	return snap
}

func originOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
