package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"clipsync/clip"
)

// DefaultFeedURL is the public uploads feed. It lists the newest public
// videos only and costs no quota.
const DefaultFeedURL = "https://www.youtube.com/feeds/videos.xml"

// FeedProbe matches titles against the channel's public uploads feed.
type FeedProbe struct {
	channelID string
	feedURL   string
	parser    *gofeed.Parser
}

// NewFeedProbe creates a probe for channelID. feedURL overrides
// DefaultFeedURL; client may be nil.
func NewFeedProbe(channelID, feedURL string, client *http.Client) *FeedProbe {
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "clipsync/1.0"
	return &FeedProbe{channelID: channelID, feedURL: feedURL, parser: parser}
}

// FindRecentByTitle returns the video ID of a feed entry whose normalised
// title equals title.
func (p *FeedProbe) FindRecentByTitle(ctx context.Context, title string) (string, error) {
	const op = "feed"
	if p.channelID == "" {
		return "", ErrNoChannel
	}

	u, err := url.Parse(p.feedURL)
	if err != nil {
		return "", &APIError{Op: op, Err: fmt.Errorf("%w: %w", clip.ErrFatal, err)}
	}
	q := u.Query()
	q.Set("channel_id", p.channelID)
	u.RawQuery = q.Encode()

	feed, err := p.parser.ParseURLWithContext(u.String(), ctx)
	if err != nil {
		return "", &APIError{Op: op, Err: fmt.Errorf("%w: %w", feedFailureClass(err), err)}
	}

	want := clip.NormalizeTitle(title)
	for _, item := range feed.Items {
		if clip.NormalizeTitle(item.Title) == want {
			if id := feedVideoID(item); id != "" {
				return id, nil
			}
		}
	}
	return "", nil
}

// feedVideoID reads yt:videoId, falling back to the "yt:video:<id>" guid.
func feedVideoID(item *gofeed.Item) string {
	if ext, ok := item.Extensions["yt"]; ok {
		if vals := ext["videoId"]; len(vals) > 0 && vals[0].Value != "" {
			return vals[0].Value
		}
	}
	if id, ok := strings.CutPrefix(item.GUID, "yt:video:"); ok {
		return id
	}
	return ""
}

func feedFailureClass(err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusNotFound:
			return clip.ErrRejected
		case httpErr.StatusCode >= 500, httpErr.StatusCode == http.StatusTooManyRequests:
			return clip.ErrTransient
		}
		return clip.ErrRejected
	}
	return clip.ErrTransient
}
