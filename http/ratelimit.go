package http

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default pauses applied to a host after it answers 429.
const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 60 * time.Second
	// MinRPSMultiplier is the floor a throttled host's rate is cut to.
	MinRPSMultiplier = 0.25
)

// Helix reports its point bucket on every response.
const (
	headerRemaining = "Ratelimit-Remaining"
	headerReset     = "Ratelimit-Reset"
)

// RateLimiterConfig sets per-host request rates. A rate of 0 means unlimited.
type RateLimiterConfig struct {
	// HelixRPS applies to api.twitch.tv. An app token gets 800 points a
	// minute, so the default of 10 stays under it with headroom.
	HelixRPS float64
	// AuthRPS applies to the id.twitch.tv token endpoint.
	AuthRPS float64
	// FeedRPS applies to the public YouTube upload feed.
	FeedRPS float64
	// DefaultRPS applies to every other host.
	DefaultRPS float64
	// CustomRates overrides the rate of individual hosts.
	CustomRates map[string]float64
	// EnableDynamicBackoff cuts a host's rate while it keeps throttling us.
	EnableDynamicBackoff bool
	// InitialPause is the pause after the first throttled response (default InitialBackoff).
	InitialPause time.Duration
	// MaxPause caps the pause (default MaxBackoff).
	MaxPause time.Duration
}

// DefaultRateLimiterConfig returns rates within the platforms' published limits.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		HelixRPS:             10.0,
		AuthRPS:              1.0,
		FeedRPS:              2.0,
		DefaultRPS:           2.0,
		CustomRates:          make(map[string]float64),
		EnableDynamicBackoff: true,
		InitialPause:         InitialBackoff,
		MaxPause:             MaxBackoff,
	}
}

// hostLimit is the limiter state of one host.
type hostLimit struct {
	limiter *rate.Limiter
	rps     float64
	// pausedUntil is set by a throttled response or an empty Helix bucket.
	pausedUntil time.Time
	// strikes counts throttled responses since the last success.
	strikes int
}

// RateLimiter keeps one token bucket per host and pauses a host when it
// throttles us or reports an empty bucket.
type RateLimiter struct {
	mu     sync.Mutex
	config RateLimiterConfig
	hosts  map[string]*hostLimit
	now    func() time.Time
}

// NewRateLimiter creates a rate limiter. Zero rates in cfg take the defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.HelixRPS == 0 {
		cfg.HelixRPS = def.HelixRPS
	}
	if cfg.AuthRPS == 0 {
		cfg.AuthRPS = def.AuthRPS
	}
	if cfg.FeedRPS == 0 {
		cfg.FeedRPS = def.FeedRPS
	}
	if cfg.DefaultRPS == 0 {
		cfg.DefaultRPS = def.DefaultRPS
	}
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}
	if cfg.InitialPause <= 0 {
		cfg.InitialPause = def.InitialPause
	}
	if cfg.MaxPause < cfg.InitialPause {
		cfg.MaxPause = max(def.MaxPause, cfg.InitialPause)
	}
	return &RateLimiter{
		config: cfg,
		hosts:  make(map[string]*hostLimit),
		now:    time.Now,
	}
}

// Wait blocks until a request to urlStr may be sent: first until any pause
// on the host is over, then until its bucket has a token.
func (rl *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	if rl == nil {
		return nil
	}
	if d := rl.PausedFor(urlStr); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	rl.mu.Lock()
	h := rl.get(hostOf(urlStr))
	rl.mu.Unlock()
	if h.limiter == nil {
		return nil
	}
	return h.limiter.Wait(ctx)
}

// Observe reads the Helix bucket headers of a response. An empty bucket
// pauses the host until the reported reset time.
func (rl *RateLimiter) Observe(urlStr string, header http.Header) {
	if rl == nil || header == nil {
		return
	}
	remaining, err := strconv.Atoi(header.Get(headerRemaining))
	if err != nil || remaining > 0 {
		return
	}
	reset, err := strconv.ParseInt(header.Get(headerReset), 10, 64)
	if err != nil {
		return
	}
	until := time.Unix(reset, 0)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if h := rl.get(hostOf(urlStr)); until.After(h.pausedUntil) && until.After(rl.now()) {
		h.pausedUntil = until
	}
}

// Throttled records a 429 or 503 from the host of urlStr and returns how long
// to wait before the next attempt. Consecutive throttles double the pause, and
// with dynamic backoff enabled each one also halves the host's rate down to
// MinRPSMultiplier of its configured value.
func (rl *RateLimiter) Throttled(urlStr string, retryAfter time.Duration) time.Duration {
	if rl == nil {
		return max(retryAfter, InitialBackoff)
	}
	cfg := rl.config

	rl.mu.Lock()
	defer rl.mu.Unlock()

	h := rl.get(hostOf(urlStr))
	h.strikes++

	pause := cfg.InitialPause << min(h.strikes-1, 6)
	pause = min(pause, cfg.MaxPause)
	pause = max(pause, retryAfter)

	if until := rl.now().Add(pause); until.After(h.pausedUntil) {
		h.pausedUntil = until
	}
	if cfg.EnableDynamicBackoff && h.limiter != nil {
		cut := h.rps
		for i := 0; i < h.strikes; i++ {
			cut /= 2
		}
		h.limiter.SetLimit(rate.Limit(max(cut, h.rps*MinRPSMultiplier)))
	}
	return pause
}

// Recovered clears the throttle state of a host after a successful request.
func (rl *RateLimiter) Recovered(urlStr string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	h, ok := rl.hosts[hostOf(urlStr)]
	if !ok || h.strikes == 0 {
		return
	}
	h.strikes = 0
	if h.limiter != nil {
		h.limiter.SetLimit(rate.Limit(h.rps))
	}
}

// PausedFor returns how long the host of urlStr is still paused.
func (rl *RateLimiter) PausedFor(urlStr string) time.Duration {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	h, ok := rl.hosts[hostOf(urlStr)]
	if !ok {
		return 0
	}
	return max(h.pausedUntil.Sub(rl.now()), 0)
}

// Limit returns the current rate of a host; 0 means unlimited.
func (rl *RateLimiter) Limit(urlStr string) float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	h := rl.get(hostOf(urlStr))
	if h.limiter == nil {
		return 0
	}
	return float64(h.limiter.Limit())
}

// get returns the state of host, creating it on first use. Callers hold mu.
func (rl *RateLimiter) get(host string) *hostLimit {
	if h, ok := rl.hosts[host]; ok {
		return h
	}
	h := &hostLimit{rps: rl.rpsFor(host)}
	if h.rps > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(h.rps), 1)
	}
	rl.hosts[host] = h
	return h
}

func (rl *RateLimiter) rpsFor(host string) float64 {
	if rps, ok := rl.config.CustomRates[host]; ok {
		return rps
	}
	switch host {
	case "api.twitch.tv":
		return rl.config.HelixRPS
	case "id.twitch.tv":
		return rl.config.AuthRPS
	case "www.youtube.com", "youtube.com":
		return rl.config.FeedRPS
	default:
		return rl.config.DefaultRPS
	}
}

// hostOf returns the host of a URL without its port.
func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
