package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"clipsync/dedup"
	"clipsync/orchestrator"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderReport formats a run report for the terminal.
func renderReport(r *orchestrator.Report) string {
	header := titleStyle.Render("clipsync run " + r.RunID)
	if r.DryRun {
		header += " " + mutedStyle.Render("(dry run)")
	}

	var panels []string
	for _, s := range r.Sources {
		panels = append(panels, panelStyle.Render(renderSource(s, r.DryRun)))
	}
	if len(panels) == 0 {
		panels = append(panels, mutedStyle.Render("no sources configured"))
	}

	summary := fmt.Sprintf("%d published, %d failed in %s",
		r.Published(), r.Failed(), r.Duration().Round(time.Second))
	switch {
	case r.Halt != "":
		summary = errorStyle.Render("halted: "+string(r.Halt)) + "  " + summary
	case r.Failed() > 0:
		summary = errorStyle.Render(summary)
	default:
		summary = okStyle.Render(summary)
	}

	parts := append([]string{header}, panels...)
	parts = append(parts, summary)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderSource(s *orchestrator.SourceReport, dryRun bool) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(s.Name))
	if s.Halt != "" {
		b.WriteString(" " + errorStyle.Render("stopped: "+string(s.Halt)))
	}
	b.WriteString("\n")

	published := len(s.Published)
	if dryRun {
		published = len(s.Planned)
	}
	fmt.Fprintf(&b, "fetched %d  forced %d  eligible %d  ranked %d  deduped %d  duplicates %d  published %d  failed %d",
		s.Fetched, s.Forced, s.Eligible, s.Ranked, s.ExcludedTotal(), s.Duplicates, published, len(s.Failed))

	if reasons := excludedSummary(s.Excluded); reasons != "" {
		b.WriteString("\n" + mutedStyle.Render("excluded: "+reasons))
	}
	if s.FetchErr != "" {
		b.WriteString("\n" + errorStyle.Render("fetch: ") + s.FetchErr)
	}
	for _, p := range s.Published {
		line := fmt.Sprintf("+ %s -> %s  %s", p.ID, p.RemoteID, p.Title)
		if p.Reconciled {
			line += mutedStyle.Render(" (found after retry)")
		}
		b.WriteString("\n" + okStyle.Render(line))
	}
	for _, p := range s.Planned {
		b.WriteString("\n" + mutedStyle.Render("~ "+p))
	}
	for _, f := range s.Failed {
		b.WriteString("\n" + errorStyle.Render(fmt.Sprintf("x %s %s", f.ID, f.Outcome)) + " " + f.Error)
	}
	return b.String()
}

func excludedSummary(m map[dedup.Reason]int) string {
	keys := make([]string, 0, len(m))
	for r, n := range m {
		if n > 0 {
			keys = append(keys, fmt.Sprintf("%s=%d", r, n))
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, " ")
}
