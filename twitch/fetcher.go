// Package twitch discovers clips through the Twitch Helix API.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"clipsync/clip"
	clhttp "clipsync/http"
	"clipsync/internal/logging"
)

const (
	// DefaultBaseURL is the Helix API root.
	DefaultBaseURL = "https://api.twitch.tv/helix"
	// DefaultTokenURL issues app access tokens.
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"
	// maxPageSize is the largest "first" Helix accepts.
	maxPageSize = 100
)

// Config configures the fetcher.
type Config struct {
	ClientID     string
	ClientSecret string
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
	// TokenURL overrides DefaultTokenURL.
	TokenURL string
	// TokenSource replaces the client-credentials flow when set.
	TokenSource oauth2.TokenSource
	// HTTP configures the underlying client. Nil means clhttp.DefaultConfig().
	HTTP *clhttp.Config
}

// Source identifies a broadcaster to fetch clips for.
type Source struct {
	// Name is the configured source name stamped on candidates.
	Name string
	// BroadcasterLogin is resolved to an ID when BroadcasterID is empty.
	BroadcasterLogin string
	BroadcasterID    string
}

// Fetcher lists clips and resolves single clips.
type Fetcher struct {
	client   *clhttp.Client
	clientID string
	baseURL  string
	log      *logging.Logger
	now      func() time.Time

	mu          sync.Mutex
	broadcaster map[string]string
	games       map[string]string
}

// New builds a fetcher authenticated with an app access token.
func New(cfg Config, log *logging.Logger) *Fetcher {
	ts := cfg.TokenSource
	if ts == nil {
		tokenURL := cfg.TokenURL
		if tokenURL == "" {
			tokenURL = DefaultTokenURL
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		ts = cc.TokenSource(context.Background())
	}
	ts = oauth2.ReuseTokenSource(nil, ts)

	httpCfg := cfg.HTTP
	if httpCfg == nil {
		httpCfg = clhttp.DefaultConfig()
	}
	wrapped := *httpCfg
	wrapped.WrapTransport = func(base http.RoundTripper) http.RoundTripper {
		if httpCfg.WrapTransport != nil {
			base = httpCfg.WrapTransport(base)
		}
		return &oauth2.Transport{Source: ts, Base: base}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		client:      clhttp.New(&wrapped),
		clientID:    cfg.ClientID,
		baseURL:     baseURL,
		log:         log.With("twitch"),
		now:         time.Now,
		broadcaster: make(map[string]string),
		games:       make(map[string]string),
	}
}

// Close releases idle connections.
func (f *Fetcher) Close() error { return f.client.Close() }

// FetchCandidates lists clips created within lookback, most viewed first as
// Helix returns them, up to maxResults. When a later page fails the clips
// already fetched are returned together with an error wrapping ErrPartialFetch.
func (f *Fetcher) FetchCandidates(ctx context.Context, src Source, lookback time.Duration, maxResults int) ([]clip.Candidate, error) {
	broadcasterID, err := f.resolveBroadcaster(ctx, src)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	if maxResults <= 0 {
		maxResults = maxPageSize
	}

	end := f.now().UTC()
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("started_at", end.Add(-lookback).Format(time.RFC3339))
	q.Set("ended_at", end.Format(time.RFC3339))

	var (
		out    []clip.Candidate
		cursor string
	)
	for len(out) < maxResults {
		q.Set("first", strconv.Itoa(min(maxPageSize, maxResults-len(out))))
		if cursor != "" {
			q.Set("after", cursor)
		} else {
			q.Del("after")
		}

		body, err := f.get(ctx, "/clips", q)
		if err != nil {
			if len(out) == 0 {
				return nil, &FetchError{Source: src.Name, Err: err}
			}
			f.log.Warn("source %s: page fetch failed after %d clips, keeping them: %v", src.Name, len(out), err)
			return out, &FetchError{Source: src.Name, Err: fmt.Errorf("%w: %w", ErrPartialFetch, err)}
		}

		page := f.parseClips(ctx, src.Name, body)
		out = append(out, page...)

		cursor = gjson.GetBytes(body, "pagination.cursor").String()
		if cursor == "" || len(page) == 0 {
			break
		}
	}
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// FetchByID resolves a single clip by slug for the manual queue.
func (f *Fetcher) FetchByID(ctx context.Context, sourceName, id string) (clip.Candidate, error) {
	q := url.Values{}
	q.Set("id", id)
	body, err := f.get(ctx, "/clips", q)
	if err != nil {
		return clip.Candidate{}, &FetchError{Source: sourceName, Err: err}
	}
	clips := f.parseClips(ctx, sourceName, body)
	if len(clips) == 0 {
		return clip.Candidate{}, &FetchError{Source: sourceName, Err: fmt.Errorf("%w: %s", ErrClipNotFound, id)}
	}
	c := clips[0]
	c.Forced = true
	return c, nil
}

func (f *Fetcher) resolveBroadcaster(ctx context.Context, src Source) (string, error) {
	if src.BroadcasterID != "" {
		return src.BroadcasterID, nil
	}
	login := strings.ToLower(strings.TrimSpace(src.BroadcasterLogin))
	if login == "" {
		return "", fmt.Errorf("%w: no broadcaster login or id", ErrBroadcasterNotFound)
	}

	f.mu.Lock()
	id, ok := f.broadcaster[login]
	f.mu.Unlock()
	if ok {
		return id, nil
	}

	q := url.Values{}
	q.Set("login", login)
	body, err := f.get(ctx, "/users", q)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", login, err)
	}
	id = gjson.GetBytes(body, "data.0.id").String()
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrBroadcasterNotFound, login)
	}

	f.mu.Lock()
	f.broadcaster[login] = id
	f.mu.Unlock()
	return id, nil
}

func (f *Fetcher) parseClips(ctx context.Context, sourceName string, body []byte) []clip.Candidate {
	data := gjson.GetBytes(body, "data").Array()
	out := make([]clip.Candidate, 0, len(data))
	gameIDs := make([]string, 0, len(data))

	for _, item := range data {
		id := item.Get("id").String()
		if id == "" {
			continue
		}
		c := clip.Candidate{
			ID:              id,
			SourceName:      sourceName,
			Title:           strings.TrimSpace(item.Get("title").String()),
			DurationSeconds: item.Get("duration").Float(),
			ViewCount:       item.Get("view_count").Int(),
			Category:        item.Get("game_id").String(),
			URL:             item.Get("url").String(),
			Creator:         item.Get("creator_name").String(),
		}
		if raw := item.Get("created_at").String(); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				c.CreatedAt = t
			} else {
				f.log.Warn("clip %s: unparseable created_at %q", id, raw)
			}
		}
		if c.Category != "" {
			gameIDs = append(gameIDs, c.Category)
		}
		out = append(out, c)
	}

	names := f.gameNames(ctx, gameIDs)
	for i := range out {
		if name, ok := names[out[i].Category]; ok {
			out[i].Category = name
		}
	}
	return out
}

// gameNames resolves game IDs to names. Failures leave IDs unresolved.
func (f *Fetcher) gameNames(ctx context.Context, ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	q := url.Values{}

	f.mu.Lock()
	for _, id := range ids {
		if name, ok := f.games[id]; ok {
			names[id] = name
		} else if !slices.Contains(q["id"], id) {
			q.Add("id", id)
		}
	}
	f.mu.Unlock()

	if len(q["id"]) == 0 {
		return names
	}
	body, err := f.get(ctx, "/games", q)
	if err != nil {
		f.log.Debug("game lookup failed: %v", err)
		return names
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range gjson.GetBytes(body, "data").Array() {
		id, name := g.Get("id").String(), g.Get("name").String()
		if id != "" && name != "" {
			f.games[id] = name
			names[id] = name
		}
	}
	return names
}

func (f *Fetcher) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	resp, err := f.client.Get(ctx, f.baseURL+path+"?"+q.Encode(), map[string]string{
		"Client-Id": f.clientID,
		"Accept":    "application/json",
	})
	if err != nil {
		var httpErr *clhttp.HTTPError
		if errors.As(err, &httpErr) {
			if msg := gjson.GetBytes(httpErr.Body, "message").String(); msg != "" {
				return nil, fmt.Errorf("helix %s: %s: %w", path, msg, err)
			}
		}
		return nil, fmt.Errorf("helix %s: %w", path, err)
	}
	return resp.Body, nil
}
