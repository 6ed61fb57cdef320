package orchestrator

import (
	"fmt"
	"strings"
	"text/template"

	"clipsync/clip"
)

// maxTitleRunes is the destination's title limit.
const maxTitleRunes = 100

// renderer produces upload titles and descriptions from templates executed
// against the candidate.
type renderer struct {
	title *template.Template
	desc  *template.Template
}

func newRenderer(m Metadata) (*renderer, error) {
	titleSrc := m.TitleTemplate
	if titleSrc == "" {
		titleSrc = "{{.Title}}"
	}
	title, err := template.New("title").Parse(titleSrc)
	if err != nil {
		return nil, fmt.Errorf("title template: %w", err)
	}
	desc, err := template.New("description").Parse(m.DescriptionTemplate)
	if err != nil {
		return nil, fmt.Errorf("description template: %w", err)
	}
	return &renderer{title: title, desc: desc}, nil
}

func (r *renderer) render(c clip.Candidate) (title, description string, err error) {
	var b strings.Builder
	if err := r.title.Execute(&b, c); err != nil {
		return "", "", fmt.Errorf("%w: render title: %w", clip.ErrRejected, err)
	}
	title = cleanTitle(b.String())
	if title == "" {
		return "", "", fmt.Errorf("%w: empty title", clip.ErrRejected)
	}

	b.Reset()
	if err := r.desc.Execute(&b, c); err != nil {
		return "", "", fmt.Errorf("%w: render description: %w", clip.ErrRejected, err)
	}
	return title, strings.TrimSpace(b.String()), nil
}

// cleanTitle drops characters the destination rejects in titles, collapses
// whitespace and truncates to the title limit.
func cleanTitle(s string) string {
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxTitleRunes {
		s = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return s
}
