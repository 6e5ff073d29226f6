// Package notify delivers normalized posts to chat webhooks. Only a
// confirmed delivery outcome permits the caller to mark a post as forwarded;
// anything less keeps the post eligible for the next sweep.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-pkgz/repeater/v2"

	"github.com/chirprelay/chirprelay/pkg/domain"
)

const embedColor = 1942002

// errRejected marks destination-side refusals that retrying cannot fix
var errRejected = errors.New("destination rejected payload")

// Discord sends posts to Discord-compatible webhooks
type Discord struct {
	client *http.Client
}

// NewDiscord creates a webhook notifier
func NewDiscord(client *http.Client) *Discord {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Discord{client: client}
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	URL         string       `json:"url"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Image       *embedImage  `json:"image,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type embedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Notify posts one formatted notification to the webhook. Transient failures
// get a few bounded immediate retries; a post still undelivered after that
// comes back as TransientFailure and will be re-offered next sweep.
func (d *Discord) Notify(ctx context.Context, webhook, account string, post domain.Post) domain.DeliveryOutcome {
	body, err := json.Marshal(buildPayload(account, post))
	if err != nil {
		return domain.DeliveryOutcome{Status: domain.Rejected, Reason: fmt.Sprintf("marshal payload: %v", err)}
	}

	var reason string
	retrier := repeater.NewBackoff(3, 500*time.Millisecond, repeater.WithMaxDelay(3*time.Second))
	err = retrier.Do(ctx, func() error {
		status, err := d.post(ctx, webhook, body)
		if err != nil {
			reason = err.Error()
			return err // transport failure, retry
		}
		switch {
		case status >= 200 && status < 300:
			return nil
		case status == http.StatusTooManyRequests || status >= 500:
			reason = fmt.Sprintf("status %d", status)
			return fmt.Errorf("webhook status %d", status)
		default:
			reason = fmt.Sprintf("status %d", status)
			return fmt.Errorf("%w: status %d", errRejected, status)
		}
	}, errRejected)

	switch {
	case err == nil:
		return domain.DeliveryOutcome{Status: domain.Delivered}
	case errors.Is(err, errRejected):
		return domain.DeliveryOutcome{Status: domain.Rejected, Reason: reason}
	default:
		return domain.DeliveryOutcome{Status: domain.TransientFailure, Reason: reason}
	}
}

func (d *Discord) post(ctx context.Context, webhook string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

// buildPayload formats a post as a single embed: text as description, image
// inlined, video linked as a field since chat embeds can't play them
func buildPayload(account string, post domain.Post) webhookPayload {
	e := embed{
		Title:       fmt.Sprintf("New post from @%s", account),
		URL:         post.Link,
		Description: post.Text,
		Color:       embedColor,
		Footer: &embedFooter{
			Text:    fmt.Sprintf("Follow @%s for more updates!", account),
			IconURL: "https://abs.twimg.com/icons/apple-touch-icon-192x192.png",
		},
	}

	if e.Description == "" {
		e.Description = "Click the link to view the post!"
	}

	switch post.MediaKind {
	case domain.MediaImage:
		e.Image = &embedImage{URL: post.Media}
	case domain.MediaVideo:
		e.Fields = []embedField{{Name: "Video", Value: post.Media}}
	}

	if post.Published != nil {
		e.Timestamp = post.Published.UTC().Format(time.RFC3339)
	}

	return webhookPayload{Embeds: []embed{e}}
}
