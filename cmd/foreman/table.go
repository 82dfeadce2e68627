package main

import (
	"strings"
	"time"

	"github.com/amonks/foreman/internal/ui"
	"github.com/amonks/foreman/session"
	"github.com/charmbracelet/lipgloss"
)

var sessionTableHeaders = []string{"ID", "REPO", "STATUS", "AGE", "PR"}

// formatSessionTable renders one aligned row per session, status
// colored by lifecycle state. Column widths are measured with
// lipgloss.Width so styling never skews alignment.
func formatSessionTable(sessions []session.Session, now time.Time) string {
	rows := make([][]string, 0, len(sessions))
	for _, sess := range sessions {
		rows = append(rows, sessionRow(sess, now))
	}
	return formatColumns(sessionTableHeaders, rows)
}

func sessionRow(sess session.Session, now time.Time) []string {
	pr := sess.PRURL
	if pr == "" {
		pr = "-"
	}
	return []string{
		sess.ID,
		sess.Repo,
		styleStatus(sess.Status),
		ui.FormatTimeAgo(sess.CreatedAt, now),
		pr,
	}
}

// formatColumns pads each cell to its column's widest visible width,
// two spaces between columns, no trailing padding.
func formatColumns(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var builder strings.Builder
	writeRow := func(row []string) {
		for i, cell := range row {
			builder.WriteString(cell)
			if i < len(row)-1 {
				builder.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		builder.WriteByte('\n')
	}

	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
	return builder.String()
}
