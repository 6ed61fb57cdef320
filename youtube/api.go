package youtube

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"

	"clipsync/clip"
	"clipsync/internal/logging"
	"clipsync/internal/retry"
)

// Upload describes one video to publish.
type Upload struct {
	FilePath      string
	Title         string
	Description   string
	Tags          []string
	CategoryID    string
	PrivacyStatus string
}

// Status is the processing state of an uploaded video.
type Status struct {
	UploadStatus    string
	PrivacyStatus   string
	FailureReason   string
	RejectionReason string
}

// OK reports whether the upload was accepted for processing.
func (s Status) OK() bool {
	return s.UploadStatus == "uploaded" || s.UploadStatus == "processed"
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// ChannelID is the destination channel. Required by the playlist probe.
	ChannelID string
	// Quota estimates API units. Nil disables local accounting.
	Quota *QuotaTracker
	// Retry applies to read-only calls. Inserts are never retried here.
	Retry retry.Config
	// ProbePages bounds how many uploads-playlist pages the probe reads.
	ProbePages int
}

// Client performs the destination operations against the Data API.
type Client struct {
	svc   *youtube.Service
	cfg   ClientConfig
	quota *QuotaTracker
	log   *logging.Logger

	mu       sync.Mutex
	playlist string
}

// NewClient wraps an authorized service.
func NewClient(svc *youtube.Service, cfg ClientConfig, log *logging.Logger) *Client {
	if cfg.ProbePages <= 0 {
		cfg.ProbePages = 2
	}
	return &Client{svc: svc, cfg: cfg, quota: cfg.Quota, log: log.With("youtube")}
}

// Publish uploads u and returns the new video ID. The upload is attempted
// once: a failure after the request left the process may still have created
// the video, so retries belong to the caller after a duplicate probe.
func (c *Client) Publish(ctx context.Context, u Upload) (string, error) {
	const op = "videos.insert"
	if err := c.quota.Reserve(op, CostInsert); err != nil {
		return "", err
	}

	f, err := os.Open(u.FilePath)
	if err != nil {
		return "", &APIError{Op: op, Err: fmt.Errorf("%w: open media: %w", clip.ErrRejected, err)}
	}
	defer f.Close()

	privacy := u.PrivacyStatus
	if privacy == "" {
		privacy = "private"
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       u.Title,
			Description: u.Description,
			Tags:        u.Tags,
			CategoryId:  u.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	resp, err := c.svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(f, googleapi.ContentType("video/mp4")).
		Context(ctx).
		Do()
	if err != nil {
		err = classify(op, err)
		if isQuota(err) {
			c.quota.Exhaust()
		}
		return "", err
	}
	if resp.Id == "" {
		return "", &APIError{Op: op, Err: fmt.Errorf("%w: response carried no video id", clip.ErrTransient)}
	}
	c.log.Info("uploaded %q as %s", u.Title, resp.Id)
	return resp.Id, nil
}

// Verify reads the processing status of an uploaded video.
func (c *Client) Verify(ctx context.Context, remoteID string) (Status, error) {
	var v *youtube.Video
	err := c.read(ctx, "videos.list", func(ctx context.Context) error {
		resp, err := c.svc.Videos.List([]string{"status"}).Id(remoteID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return &APIError{Op: "videos.list", Err: fmt.Errorf("%w: %w: %s", clip.ErrRejected, ErrVideoNotFound, remoteID)}
		}
		v = resp.Items[0]
		return nil
	})
	if err != nil {
		return Status{}, err
	}
	if v.Status == nil {
		return Status{}, nil
	}
	return Status{
		UploadStatus:    v.Status.UploadStatus,
		PrivacyStatus:   v.Status.PrivacyStatus,
		FailureReason:   v.Status.FailureReason,
		RejectionReason: v.Status.RejectionReason,
	}, nil
}

// UpdateDescription replaces the description of an uploaded video, keeping
// the rest of its snippet.
func (c *Client) UpdateDescription(ctx context.Context, remoteID, description string) error {
	var v *youtube.Video
	err := c.read(ctx, "videos.list", func(ctx context.Context) error {
		resp, err := c.svc.Videos.List([]string{"snippet"}).Id(remoteID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
			return &APIError{Op: "videos.list", Err: fmt.Errorf("%w: %w: %s", clip.ErrRejected, ErrVideoNotFound, remoteID)}
		}
		v = resp.Items[0]
		return nil
	})
	if err != nil {
		return err
	}

	const op = "videos.update"
	if err := c.quota.Reserve(op, CostUpdate); err != nil {
		return err
	}
	snippet := v.Snippet
	snippet.Description = description
	_, err = c.svc.Videos.Update([]string{"snippet"}, &youtube.Video{Id: remoteID, Snippet: snippet}).Context(ctx).Do()
	return classify(op, err)
}

// ViewCounts returns view counts for the given videos. Unknown IDs are absent
// from the result.
func (c *Client) ViewCounts(ctx context.Context, remoteIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(remoteIDs))
	for start := 0; start < len(remoteIDs); start += 50 {
		batch := remoteIDs[start:min(start+50, len(remoteIDs))]
		err := c.read(ctx, "videos.list", func(ctx context.Context) error {
			resp, err := c.svc.Videos.List([]string{"statistics"}).Id(batch...).Context(ctx).Do()
			if err != nil {
				return err
			}
			for _, item := range resp.Items {
				if item.Statistics != nil {
					counts[item.Id] = int64(item.Statistics.ViewCount)
				}
			}
			return nil
		})
		if err != nil {
			return counts, err
		}
	}
	return counts, nil
}

// FindRecentByTitle scans the newest pages of the channel's uploads playlist,
// private uploads included, for a title matching after normalisation.
func (c *Client) FindRecentByTitle(ctx context.Context, title string) (string, error) {
	playlistID, err := c.uploadsPlaylist(ctx)
	if err != nil {
		return "", err
	}

	want := clip.NormalizeTitle(title)
	pageToken := ""
	for page := 0; page < c.cfg.ProbePages; page++ {
		var (
			found string
			next  string
		)
		err := c.read(ctx, "playlistItems.list", func(ctx context.Context) error {
			resp, err := c.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
				PlaylistId(playlistID).
				MaxResults(50).
				PageToken(pageToken).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}
			for _, item := range resp.Items {
				if item.Snippet == nil || clip.NormalizeTitle(item.Snippet.Title) != want {
					continue
				}
				found = playlistVideoID(item)
				if found != "" {
					break
				}
			}
			next = resp.NextPageToken
			return nil
		})
		if err != nil {
			return "", err
		}
		if found != "" {
			return found, nil
		}
		if next == "" {
			break
		}
		pageToken = next
	}
	return "", nil
}

func playlistVideoID(item *youtube.PlaylistItem) string {
	if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
		return item.ContentDetails.VideoId
	}
	if item.Snippet != nil && item.Snippet.ResourceId != nil {
		return item.Snippet.ResourceId.VideoId
	}
	return ""
}

// uploadsPlaylist resolves and caches the channel's uploads playlist ID.
func (c *Client) uploadsPlaylist(ctx context.Context) (string, error) {
	if c.cfg.ChannelID == "" {
		return "", ErrNoChannel
	}
	c.mu.Lock()
	cached := c.playlist
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var playlistID string
	err := c.read(ctx, "channels.list", func(ctx context.Context) error {
		resp, err := c.svc.Channels.List([]string{"contentDetails"}).Id(c.cfg.ChannelID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil || resp.Items[0].ContentDetails.RelatedPlaylists == nil {
			return &APIError{Op: "channels.list", Err: fmt.Errorf("%w: channel %s not found", clip.ErrFatal, c.cfg.ChannelID)}
		}
		playlistID = resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
		return nil
	})
	if err != nil {
		return "", err
	}
	if playlistID == "" && strings.HasPrefix(c.cfg.ChannelID, "UC") {
		playlistID = "UU" + strings.TrimPrefix(c.cfg.ChannelID, "UC")
	}

	c.mu.Lock()
	c.playlist = playlistID
	c.mu.Unlock()
	return playlistID, nil
}

// read runs a read-only call with quota accounting and bounded retries on
// transient failures.
func (c *Client) read(ctx context.Context, op string, fn func(context.Context) error) error {
	err := retry.Do(ctx, c.cfg.Retry, retry.IsRetryable, func(ctx context.Context) error {
		if err := c.quota.Reserve(op, CostList); err != nil {
			return err
		}
		return classify(op, fn(ctx))
	})
	if err == nil {
		return nil
	}
	if isQuota(err) {
		c.quota.Exhaust()
	}
	var retryErr *retry.RetryableError
	if errors.As(err, &retryErr) {
		return retryErr.Err
	}
	return err
}
