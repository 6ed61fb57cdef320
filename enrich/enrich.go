// Package enrich writes video descriptions for published clips through an
// OpenAI-compatible chat completion endpoint.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"clipsync/clip"
	"clipsync/internal/logging"
)

// MaxDescriptionRunes is the destination's description limit.
const MaxDescriptionRunes = 5000

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// ErrNoAPIKey is returned by New without an API key.
var ErrNoAPIKey = errors.New("enrich: api key required")

// Config configures the describer.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Describer generates descriptions.
type Describer struct {
	client openai.Client
	model  string
	log    *logging.Logger
}

// New creates a describer. opts are appended to the client options.
func New(cfg Config, log *logging.Logger, opts ...option.RequestOption) (*Describer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Describer{
		client: openai.NewClient(clientOpts...),
		model:  model,
		log:    log.With("enrich"),
	}, nil
}

const systemPrompt = "You write YouTube descriptions for short Twitch clips. " +
	"Write two or three plain sentences that make a viewer want to watch. " +
	"No hashtags, no emojis, no links, no quotation marks around the text."

// Describe returns a description for c. The credit line is always appended
// so attribution survives whatever the model writes.
func (d *Describer) Describe(ctx context.Context, c clip.Candidate) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Clip title: %s\n", c.Title)
	if c.Category != "" {
		fmt.Fprintf(&prompt, "Game: %s\n", c.Category)
	}
	fmt.Fprintf(&prompt, "Channel: %s\n", c.SourceName)
	if c.Creator != "" {
		fmt.Fprintf(&prompt, "Clipped by: %s\n", c.Creator)
	}

	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt.String()),
		},
		Model:       d.model,
		Temperature: openai.Float(0.7),
	})
	if err != nil {
		return "", fmt.Errorf("enrich %s: %w", c.ID, classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("enrich %s: %w: no choices returned", c.ID, clip.ErrTransient)
	}
	body := strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"`)
	if body == "" {
		return "", fmt.Errorf("enrich %s: %w: empty completion", c.ID, clip.ErrTransient)
	}
	d.log.Debug("described %s with %d runes", c.ID, utf8.RuneCountInString(body))
	return Compose(body, c), nil
}

// Compose joins body and the credit line, truncating body to fit the
// destination limit.
func Compose(body string, c clip.Candidate) string {
	body = strings.TrimSpace(body)
	credit := Credit(c)
	room := MaxDescriptionRunes - utf8.RuneCountInString(credit) - 2
	if r := []rune(body); len(r) > room {
		body = strings.TrimSpace(string(r[:max(room, 0)]))
	}
	if body == "" {
		return credit
	}
	return body + "\n\n" + credit
}

// Credit is the attribution line for a clip.
func Credit(c clip.Candidate) string {
	line := "Streamer: " + c.SourceName
	if c.Creator != "" {
		line += " | Clipped by " + c.Creator
	}
	if c.URL != "" {
		line += "\n" + c.URL
	}
	return line
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == 401 || code == 403:
			return fmt.Errorf("%w: %w", clip.ErrFatal, err)
		case code == 429 || code >= 500:
			return fmt.Errorf("%w: %w", clip.ErrTransient, err)
		default:
			return fmt.Errorf("%w: %w", clip.ErrRejected, err)
		}
	}
	return fmt.Errorf("%w: %w", clip.ErrTransient, err)
}
