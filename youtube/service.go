package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"clipsync/internal/atomicfile"
	"clipsync/internal/logging"
)

// Scopes requested for the installed-app OAuth client.
var Scopes = []string{
	youtube.YoutubeUploadScope,
	youtube.YoutubeReadonlyScope,
	youtube.YoutubeForceSslScope,
}

// Credentials locate the OAuth client secrets and the authorized user token.
type Credentials struct {
	ClientSecretsPath string
	TokenPath         string
}

func (c Credentials) key() string { return c.ClientSecretsPath + "\x00" + c.TokenPath }

// ServiceCache builds one authorized *youtube.Service per credential pair and
// hands the same instance to every caller for the life of the process.
type ServiceCache struct {
	mu       sync.Mutex
	services map[string]*youtube.Service
	opts     []option.ClientOption
	log      *logging.Logger
}

// NewServiceCache creates a cache. opts are appended to every NewService call.
func NewServiceCache(log *logging.Logger, opts ...option.ClientOption) *ServiceCache {
	return &ServiceCache{
		services: make(map[string]*youtube.Service),
		opts:     opts,
		log:      log.With("youtube"),
	}
}

// Service returns the cached service for creds, creating it on first use.
func (c *ServiceCache) Service(ctx context.Context, creds Credentials) (*youtube.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if svc, ok := c.services[creds.key()]; ok {
		return svc, nil
	}

	ts, err := c.tokenSource(creds)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	c.services[creds.key()] = svc
	return svc, nil
}

func (c *ServiceCache) tokenSource(creds Credentials) (oauth2.TokenSource, error) {
	secrets, err := os.ReadFile(creds.ClientSecretsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read client secrets: %v", ErrNoCredentials, err)
	}
	cfg, err := google.ConfigFromJSON(secrets, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parse client secrets: %v", ErrNoCredentials, err)
	}

	tok, err := LoadToken(creds.TokenPath)
	if err != nil {
		return nil, err
	}
	// Refreshes outlive any single request context.
	base := cfg.TokenSource(context.Background(), tok)
	return &savingTokenSource{base: base, path: creds.TokenPath, last: tok.AccessToken, log: c.log}, nil
}

// LoadToken reads an oauth2 token saved as JSON.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no token at %s, authorize the channel first", ErrNoCredentials, path)
		}
		return nil, fmt.Errorf("%w: read token: %v", ErrNoCredentials, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: parse token: %v", ErrNoCredentials, err)
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token file %s is empty", ErrNoCredentials, path)
	}
	return &tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return atomicfile.WriteFile(path, data, 0o600)
}

// savingTokenSource persists refreshed tokens so the next run starts with a
// valid access token.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string
	log  *logging.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			s.log.Warn("persist refreshed token: %v", err)
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}
