package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/browsergrid/pkg/report"
	"github.com/entrhq/browsergrid/pkg/types"
)

var (
	salmonPink = lipgloss.Color("#FFB3BA")
	mintGreen  = lipgloss.Color("#A8E6CF")
	mutedGray  = lipgloss.Color("#6B7280")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	passStyle = lipgloss.NewStyle().
			Foreground(mintGreen)

	failStyle = lipgloss.NewStyle().
			Foreground(salmonPink)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1)
)

// renderSummary renders the end-of-run summary for the terminal.
func renderSummary(s *report.Summary) string {
	var b strings.Builder

	for _, r := range s.Results {
		mark := passStyle.Render("✓")
		if !r.Success {
			mark = failStyle.Render("✗")
		}
		line := fmt.Sprintf("%s %s %s", mark, r.ID, mutedStyle.Render(fmt.Sprintf("[%s] %s", r.BrowserType, r.Duration.Round(time.Millisecond))))
		if r.RetryCount > 0 {
			line += mutedStyle.Render(fmt.Sprintf(" (%d retries)", r.RetryCount))
		}
		b.WriteString(line + "\n")
		if r.Error != "" {
			b.WriteString(failStyle.Render("    "+r.Error) + "\n")
		}
		if r.CleanupError != "" {
			b.WriteString(mutedStyle.Render("    cleanup: "+r.CleanupError) + "\n")
		}
	}

	status := passStyle.Render(fmt.Sprintf("%d passed", s.Passed))
	if s.Failed > 0 {
		status += ", " + failStyle.Render(fmt.Sprintf("%d failed", s.Failed))
	}
	box := []string{
		titleStyle.Render("browsergrid " + s.Status),
		status,
		mutedStyle.Render(fmt.Sprintf("%d workers, %s total, %s average",
			s.Metrics.Workers, s.Duration.Round(time.Millisecond), s.Metrics.AverageDuration.Round(time.Millisecond))),
	}
	b.WriteString(summaryBoxStyle.Render(strings.Join(box, "\n")))
	return b.String()
}

func backendLine(bt types.BrowserType, ok bool, detail string) string {
	mark := passStyle.Render("✓")
	if !ok {
		mark = failStyle.Render("✗")
	}
	line := fmt.Sprintf("  %s %-15s", mark, bt)
	if detail != "" {
		line += " " + mutedStyle.Render(detail)
	}
	return line
}
