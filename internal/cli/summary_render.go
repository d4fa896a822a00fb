package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"yt-audio-ingest/internal/ingest"
	"yt-audio-ingest/internal/model"
)

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	summaryMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	summaryErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	summaryOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	summaryWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

func renderSummary(s ingest.Summary) string {
	var b strings.Builder
	for _, p := range s.Playlists {
		b.WriteString(renderPlaylistSummary(p))
		b.WriteString("\n")
	}

	t := s.Totals()
	elapsed := s.FinishedAt.Sub(s.StartedAt).Round(time.Second)
	line := fmt.Sprintf("done in %s: %d playlist(s), %d archived, %d skipped, %d failed", elapsed, t.Playlists, t.Archived, t.Skipped, t.Failed)
	if t.Interrupted > 0 {
		line += fmt.Sprintf(", %d interrupted", t.Interrupted)
	}
	if t.ResolveFailed > 0 {
		line += fmt.Sprintf(", %d unresolved", t.ResolveFailed)
	}
	switch {
	case s.Interrupted || t.Interrupted > 0:
		b.WriteString(summaryWarnStyle.Render(line))
	case t.Failed > 0 || t.ResolveFailed > 0:
		b.WriteString(summaryErrorStyle.Render(line))
	default:
		b.WriteString(summaryOKStyle.Render(line))
	}
	b.WriteString("\n")
	return b.String()
}

func renderPlaylistSummary(p ingest.PlaylistSummary) string {
	title := firstNonEmpty(p.Title, p.Ref.Label())
	if p.ResolveError != "" {
		return summaryTitleStyle.Render(title) + "\n" +
			summaryErrorStyle.Render("  could not resolve: "+truncateRunes(p.ResolveError, 200)) + "\n"
	}
	lines := []string{
		summaryTitleStyle.Render(title) + summaryMutedStyle.Render("  "+p.Dir),
		fmt.Sprintf("  %d items: %d archived, %d already archived, %d failed", p.Total, p.Archived, p.Skipped, p.Failed),
	}
	for _, j := range p.Jobs {
		if j.State != string(model.StateFailed) {
			continue
		}
		lines = append(lines, summaryErrorStyle.Render(fmt.Sprintf("  x %s", j.ItemID))+
			summaryMutedStyle.Render(fmt.Sprintf("  %s: %s", j.Reason, truncateRunes(j.Error, 120))))
	}
	if p.Interrupted > 0 {
		lines = append(lines, summaryWarnStyle.Render(fmt.Sprintf("  %d item(s) interrupted; they are picked up on the next run", p.Interrupted)))
	}
	return strings.Join(lines, "\n") + "\n"
}
