package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-pkgz/lgr"
	"github.com/mmcdole/gofeed"

	"github.com/chirprelay/chirprelay/pkg/throttle"
)

// maxFeedBody caps how much of a mirror response is read; anything past this
// is not a feed we care about
const maxFeedBody = 2 << 20

// Pool probes mirror endpoints for an account in a fixed priority order and
// returns the first one that serves a recognizable feed. Mirrors come and go
// without notice, so liveness is re-checked on every call; the only state
// kept between calls is an advisory last-known-good hint per account.
type Pool struct {
	mirrors   []string
	client    *http.Client
	throttle  *throttle.Throttle
	userAgent string

	mu    sync.Mutex
	hints map[string]string // account -> last mirror that worked, advisory only
}

// NewPool creates a mirror pool. The mirror list order defines probe priority
// and is never shuffled, failures stay reproducible that way.
func NewPool(mirrors []string, client *http.Client, thr *throttle.Throttle, userAgent string) *Pool {
	trimmed := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		trimmed = append(trimmed, strings.TrimRight(m, "/"))
	}
	return &Pool{
		mirrors:   trimmed,
		client:    client,
		throttle:  thr,
		userAgent: userAgent,
		hints:     make(map[string]string),
	}
}

// Select probes mirrors for the account and returns the first one serving a
// parseable feed, together with the parsed document. Returns ("", nil) when
// every mirror fails; callers treat that as "no posts this cycle", not as an
// error.
func (p *Pool) Select(ctx context.Context, account string) (mirror string, feed *gofeed.Feed) {
	for _, m := range p.candidates(account) {
		doc, err := p.probe(ctx, m, account)
		if err != nil {
			lgr.Printf("[DEBUG] mirror %s failed for %s: %v", m, account, err)
			continue
		}
		p.remember(account, m)
		return m, doc
	}
	lgr.Printf("[WARN] no working mirror for %s out of %d", account, len(p.mirrors))
	return "", nil
}

// Mirrors returns the configured mirror base URLs in priority order
func (p *Pool) Mirrors() []string {
	res := make([]string, len(p.mirrors))
	copy(res, p.mirrors)
	return res
}

// Hosts returns the mirror hostnames, used to recognize instance-branded
// placeholder assets in post markup
func (p *Pool) Hosts() []string {
	res := make([]string, 0, len(p.mirrors))
	for _, m := range p.mirrors {
		if u, err := url.Parse(m); err == nil && u.Host != "" {
			res = append(res, u.Host)
		}
	}
	return res
}

// candidates returns the probe order for an account: the last-known-good
// mirror first (it still gets fully validated), then the configured order
func (p *Pool) candidates(account string) []string {
	p.mu.Lock()
	hint := p.hints[account]
	p.mu.Unlock()

	if hint == "" {
		return p.mirrors
	}

	res := make([]string, 0, len(p.mirrors))
	res = append(res, hint)
	for _, m := range p.mirrors {
		if m != hint {
			res = append(res, m)
		}
	}
	return res
}

func (p *Pool) remember(account, mirror string) {
	p.mu.Lock()
	p.hints[account] = mirror
	p.mu.Unlock()
}

// probe fetches the account feed from one mirror and insists on a parseable
// document. Mirrors like to serve HTML error pages with a 200 status, so a
// transport-level success alone proves nothing.
func (p *Pool) probe(ctx context.Context, mirror, account string) (*gofeed.Feed, error) {
	feedURL := mirror + "/" + account + "/rss"

	if err := p.throttle.Wait(ctx, feedURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	addBrowserHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return doc, nil
}
