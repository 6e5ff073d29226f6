// Package media recovers an image or video URL for a post when the feed
// entry itself is not enough. The fallback chain is ordered and
// short-circuits on the first hit: entry markup, OpenGraph tag in the entry
// markup, then a secondary fetch of the post's own page.
package media

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-pkgz/lgr"

	"github.com/chirprelay/chirprelay/pkg/domain"
	"github.com/chirprelay/chirprelay/pkg/throttle"
)

const maxPageBody = 1 << 20

// Resolver implements the media fallback chain
type Resolver struct {
	client      *http.Client
	throttle    *throttle.Throttle
	mirrors     []string            // alternates for rate-limited page fetches, priority order
	mirrorHosts map[string]struct{} // hosts whose assets are instance placeholders, not post media
	userAgent   string
	verify      bool
	jitterMin   time.Duration
	jitterMax   time.Duration
}

// Config holds resolver construction parameters
type Config struct {
	Client    *http.Client
	Throttle  *throttle.Throttle
	Mirrors   []string
	UserAgent string
	Verify    bool
	JitterMin time.Duration
	JitterMax time.Duration
}

// NewResolver creates a media resolver
func NewResolver(cfg Config) *Resolver {
	hosts := make(map[string]struct{}, len(cfg.Mirrors))
	mirrors := make([]string, 0, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		m = strings.TrimRight(m, "/")
		mirrors = append(mirrors, m)
		if u, err := url.Parse(m); err == nil && u.Host != "" {
			hosts[u.Host] = struct{}{}
		}
	}
	return &Resolver{
		client:      cfg.Client,
		throttle:    cfg.Throttle,
		mirrors:     mirrors,
		mirrorHosts: hosts,
		userAgent:   cfg.UserAgent,
		verify:      cfg.Verify,
		jitterMin:   cfg.JitterMin,
		jitterMax:   cfg.JitterMax,
	}
}

// Resolve walks the fallback chain and returns the first acceptable media
// URL, or "" when the post has none we can trust. Never returns a URL that
// failed verification - a missing embed beats a broken one.
func (r *Resolver) Resolve(ctx context.Context, descriptionHTML, postLink string) (string, domain.MediaKind) {
	if u, kind := r.fromMarkup(descriptionHTML); u != "" {
		return r.checked(ctx, u, kind)
	}

	if u := r.fromPage(ctx, postLink); u != "" {
		return r.checked(ctx, u, domain.MediaImage)
	}

	return "", domain.MediaNone
}

// fromMarkup inspects the entry's own markup: an embedded image first, a
// video second (image wins when both exist), then an OpenGraph image tag
func (r *Resolver) fromMarkup(descriptionHTML string) (string, domain.MediaKind) {
	if descriptionHTML == "" {
		return "", domain.MediaNone
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(descriptionHTML))
	if err != nil {
		return "", domain.MediaNone
	}

	if u := r.firstAcceptable(doc, "img[src]", "src"); u != "" {
		return u, domain.MediaImage
	}
	if u := r.firstAcceptable(doc, "video[src], video source[src]", "src"); u != "" {
		return u, domain.MediaVideo
	}
	if u := r.firstAcceptable(doc, `meta[property="og:image"]`, "content"); u != "" {
		return u, domain.MediaImage
	}
	return "", domain.MediaNone
}

// firstAcceptable returns the first attribute value in the selection that is
// absolute and not an instance-branded mirror asset
func (r *Resolver) firstAcceptable(doc *goquery.Document, selector, attr string) string {
	var found string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr(attr)
		if !ok || !r.acceptable(v) {
			return true // keep looking
		}
		found = v
		return false
	})
	return found
}

// acceptable requires a scheme-qualified URL whose host is not one of the
// configured mirrors; relative paths and mirror-hosted placeholders are
// useless outside the mirror itself
func (r *Resolver) acceptable(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	_, branded := r.mirrorHosts[u.Host]
	return !branded
}

// fromPage fetches the post's own page and pulls its OpenGraph image. On an
// explicit rate-limit response it retries the same path on alternate
// mirrors, at most once per mirror; any other failure gives up immediately.
func (r *Resolver) fromPage(ctx context.Context, postLink string) string {
	if postLink == "" {
		return ""
	}

	pages := r.pageCandidates(postLink)
	for _, page := range pages {
		body, status, err := r.fetchPage(ctx, page)
		if err != nil {
			lgr.Printf("[DEBUG] page fetch failed for %s: %v", page, err)
			return ""
		}
		if status == http.StatusTooManyRequests {
			lgr.Printf("[DEBUG] rate limited on %s, trying next mirror", page)
			continue
		}
		if status != http.StatusOK {
			return ""
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return ""
		}
		if u, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok && r.acceptable(u) {
			return u
		}
		return ""
	}
	return ""
}

// pageCandidates returns the post page URL followed by the same path on each
// alternate mirror. The list is bounded by the pool size, there is no retry
// loop past it.
func (r *Resolver) pageCandidates(postLink string) []string {
	res := []string{postLink}
	orig, err := url.Parse(postLink)
	if err != nil {
		return res
	}
	for _, m := range r.mirrors {
		mu, err := url.Parse(m)
		if err != nil || mu.Host == orig.Host {
			continue
		}
		alt := *orig
		alt.Scheme = mu.Scheme
		alt.Host = mu.Host
		res = append(res, alt.String())
	}
	return res
}

// fetchPage performs one jittered, throttled GET of a post page
func (r *Resolver) fetchPage(ctx context.Context, pageURL string) (body string, status int, err error) {
	// a short random delay keeps secondary fetches from looking like a burst
	if err := r.sleepJitter(ctx); err != nil {
		return "", 0, err
	}
	if err := r.throttle.Wait(ctx, pageURL); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read page: %w", err)
	}
	return string(data), resp.StatusCode, nil
}

func (r *Resolver) sleepJitter(ctx context.Context) error {
	if r.jitterMax <= 0 {
		return nil
	}
	d := r.jitterMin
	if span := r.jitterMax - r.jitterMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span))) //nolint:gosec // non-cryptographic randomness is fine for jitter
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checked runs the final reachability probe; an unreachable media URL is
// suppressed rather than forwarded as a broken embed
func (r *Resolver) checked(ctx context.Context, mediaURL string, kind domain.MediaKind) (string, domain.MediaKind) {
	if !r.verify {
		return mediaURL, kind
	}
	if r.reachable(ctx, mediaURL) {
		return mediaURL, kind
	}
	lgr.Printf("[DEBUG] dropping unreachable media %s", mediaURL)
	return "", domain.MediaNone
}

// reachable probes the URL with HEAD, falling back to GET for servers that
// reject HEAD outright
func (r *Resolver) reachable(ctx context.Context, mediaURL string) bool {
	if err := r.throttle.Wait(ctx, mediaURL); err != nil {
		return false
	}

	status, err := r.probe(ctx, http.MethodHead, mediaURL)
	if err != nil {
		return false
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		status, err = r.probe(ctx, http.MethodGet, mediaURL)
		if err != nil {
			return false
		}
	}
	return status >= 200 && status < 300
}

func (r *Resolver) probe(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, nil
}
