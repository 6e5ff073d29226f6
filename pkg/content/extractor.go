// Package content extracts plain text from a post's own page. Used as a
// fallback when a feed entry arrives with an empty description, which some
// mirrors produce for media-only posts.
package content

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markusmobius/go-trafilatura"

	"github.com/chirprelay/chirprelay/pkg/throttle"
)

// maxTextLen bounds the fallback text; a chat embed has no use for a full
// article body
const maxTextLen = 500

// PageExtractor extracts readable text from post pages
type PageExtractor struct {
	client    *http.Client
	throttle  *throttle.Throttle
	userAgent string
	timeout   time.Duration
}

// NewPageExtractor creates a page text extractor
func NewPageExtractor(client *http.Client, thr *throttle.Throttle, userAgent string, timeout time.Duration) *PageExtractor {
	return &PageExtractor{client: client, throttle: thr, userAgent: userAgent, timeout: timeout}
}

// Extract fetches the page and returns its main text, truncated to embed
// size. Returns an error on any failure; callers treat it as "no text".
func (e *PageExtractor) Extract(ctx context.Context, urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", urlStr)
	}

	if err := e.throttle.Wait(ctx, urlStr); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	addBrowserHeaders(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL %s: %w", urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d for URL %s", resp.StatusCode, urlStr)
	}

	opts := trafilatura.Options{
		EnableFallback:  true,
		ExcludeComments: true,
		Deduplicate:     true,
		OriginalURL:     parsedURL,
	}

	result, err := trafilatura.Extract(resp.Body, opts)
	if err != nil {
		return "", fmt.Errorf("extract content from %s: %w", urlStr, err)
	}
	if result == nil || result.ContentText == "" {
		return "", fmt.Errorf("no text content extracted from %s", urlStr)
	}

	text := strings.TrimSpace(result.ContentText)
	if runes := []rune(text); len(runes) > maxTextLen {
		text = string(runes[:maxTextLen]) + "…"
	}
	return text, nil
}
