package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/loader"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).MarginBottom(1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Width(12)
	valueStyle   = lipgloss.NewStyle()
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func renderSummary(source string, s loader.Snapshot, elapsed time.Duration) string {
	status := successStyle.Render(string(s.Status))
	if s.Status == data.StatusFailed {
		status = errorStyle.Render(string(s.Status))
	}
	rows := [][2]string{
		{"source", source},
		{"status", status},
	}
	if g := s.Geometry; g != nil {
		rows = append(rows,
			[2]string{"size", fmt.Sprintf("%d x %d x %d", g.Width, g.Height, g.Depth)},
			[2]string{"spacing", fmt.Sprintf("%.3f x %.3f x %.3f mm", g.SpacingX, g.SpacingY, g.SpacingZ)},
		)
	}
	rows = append(rows,
		[2]string{"slices", fmt.Sprintf("%d/%d (%d full quality)", s.Progress.Written, s.Progress.Total, s.Progress.Best)},
		[2]string{"revision", fmt.Sprintf("%d", s.Revision)},
		[2]string{"elapsed", elapsed.Round(time.Millisecond).String()},
	)
	if s.Err != nil {
		rows = append(rows, [2]string{"error", errorStyle.Render(s.Err.Error())})
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r[0]), valueStyle.Render(r[1])))
	}
	return boxStyle.Render(titleStyle.Render("volload fetch") + "\n" + strings.Join(lines, "\n"))
}
