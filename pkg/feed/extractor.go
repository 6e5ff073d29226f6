package feed

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/chirprelay/chirprelay/pkg/domain"
)

// stripPolicy removes every tag, leaving plain text only
var stripPolicy = bluemonday.StrictPolicy()

// Candidate is one extracted post together with the raw entry markup the
// media resolver still needs. The markup is transient and never persisted.
type Candidate struct {
	Post            domain.Post
	DescriptionHTML string
}

// Posts converts up to maxCount feed entries into normalized post candidates,
// preserving source order (newest first). A malformed entry is dropped or
// degraded on its own, it never takes its siblings down with it.
func Posts(doc *gofeed.Feed, account string, maxCount int) []Candidate {
	if doc == nil || maxCount <= 0 {
		return nil
	}

	items := doc.Items
	if len(items) > maxCount {
		items = items[:maxCount]
	}

	res := make([]Candidate, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		id := postID(item.Link)
		if id == "" {
			// GUID is usually the entry link too, try it before giving up
			id = postID(item.GUID)
		}
		if id == "" {
			continue
		}

		link := item.Link
		if link == "" {
			link = canonicalLink(account, id)
		}

		post := domain.Post{
			ID:        id,
			Account:   account,
			Link:      link,
			Text:      plainText(item.Description),
			Published: publishedAt(item),
		}
		res = append(res, Candidate{Post: post, DescriptionHTML: item.Description})
	}
	return res
}

// postID derives a stable identifier from the last non-empty path segment of
// the entry link. Mirror links carry a "#m" fragment, strip it first.
func postID(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(segments[i]); s != "" {
			return s
		}
	}
	return ""
}

// canonicalLink builds the post URL from account and id when the entry
// carries none
func canonicalLink(account, id string) string {
	return fmt.Sprintf("https://twitter.com/%s/status/%s", account, id)
}

// plainText strips all markup from the description and collapses whitespace
func plainText(description string) string {
	if description == "" {
		return ""
	}
	text := stripPolicy.Sanitize(description)
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

// publishedAt parses the entry publication date. gofeed handles the usual
// mail/news format already; a raw RFC1123Z string is the fallback. Absent or
// malformed dates yield nil, that only disables age filtering downstream.
func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed
	}
	if item.Published != "" {
		if ts, err := time.Parse(time.RFC1123Z, item.Published); err == nil {
			return &ts
		}
	}
	return nil
}
