package feed

import (
	"context"

	"github.com/go-pkgz/lgr"

	"github.com/chirprelay/chirprelay/pkg/domain"
)

//go:generate moq -out mocks/media.go -pkg mocks -skip-ensure -fmt goimports . MediaResolver
//go:generate moq -out mocks/pagetext.go -pkg mocks -skip-ensure -fmt goimports . PageTextExtractor

// MediaResolver recovers an image or video URL for a post, best effort
type MediaResolver interface {
	Resolve(ctx context.Context, descriptionHTML, postLink string) (url string, kind domain.MediaKind)
}

// PageTextExtractor pulls plain text from a post's own page, used when the
// feed entry carries no description
type PageTextExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Fetcher ties the mirror pool, the extractor and the media resolver into a
// single "newest posts for this account" call
type Fetcher struct {
	pool     *Pool
	media    MediaResolver
	pageText PageTextExtractor // optional, nil disables the text fallback
	maxPosts int
}

// NewFetcher creates a fetch orchestrator. pageText may be nil.
func NewFetcher(pool *Pool, media MediaResolver, pageText PageTextExtractor, maxPosts int) *Fetcher {
	if maxPosts <= 0 {
		maxPosts = 3
	}
	return &Fetcher{pool: pool, media: media, pageText: pageText, maxPosts: maxPosts}
}

// Latest returns up to maxPosts normalized posts for the account in source
// order, newest first. An empty result with a nil error means no mirror
// answered or the account has nothing; the caller just moves on. Nothing
// here is allowed to take other accounts down with it.
func (f *Fetcher) Latest(ctx context.Context, account string) ([]domain.Post, error) {
	mirror, doc := f.pool.Select(ctx, account)
	if doc == nil {
		return nil, nil
	}
	lgr.Printf("[DEBUG] %s served by %s, %d entries", account, mirror, len(doc.Items))

	candidates := Posts(doc, account, f.maxPosts)

	posts := make([]domain.Post, 0, len(candidates))
	for _, c := range candidates {
		post := c.Post

		if f.media != nil {
			post.Media, post.MediaKind = f.media.Resolve(ctx, c.DescriptionHTML, post.Link)
		}

		if post.Text == "" && f.pageText != nil {
			text, err := f.pageText.Extract(ctx, post.Link)
			if err != nil {
				lgr.Printf("[DEBUG] page text fallback failed for %s: %v", post.Link, err)
			} else {
				post.Text = text
			}
		}

		posts = append(posts, post)
	}
	return posts, nil
}
