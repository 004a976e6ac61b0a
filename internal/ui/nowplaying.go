package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// renderNowPlaying renders the track panel from the last pushState.
func (m Model) renderNowPlaying() string {
	styles := m.theme.Styles()
	panel := styles.Panel
	if m.width > 2 {
		panel = panel.Width(m.width - 2)
	}

	if !m.snapshot.HasPlayback {
		msg := "Waiting for player state..."
		if m.snapshot.Offline() {
			msg = "No player state yet"
		}
		return panel.Render(styles.MutedText.Render(msg))
	}

	p := m.snapshot.Playback
	title := p.Title
	if title == "" {
		title = "Nothing playing"
	}

	lines := []string{
		statusIcon(p.Status) + " " + styles.Title.Render(truncate(title, m.width-10)),
	}
	if sub := joinNonEmpty(" · ", p.Artist, p.Album); sub != "" {
		lines = append(lines, styles.MutedText.Render(truncate(sub, m.width-10)))
	}
	lines = append(lines, "")

	if p.Duration > 0 {
		pct := float64(p.Position()) / float64(p.Length())
		lines = append(lines, m.seekBar.ViewAs(clampUnit(pct))+" "+
			styles.FaintText.Render(formatClock(p.Position())+" / "+formatClock(p.Length())))
	}

	vol := fmt.Sprintf("vol %d%%", p.Volume)
	if p.Mute {
		vol = "muted"
	}
	flags := []string{styles.InfoText.Render(vol)}
	if p.Random {
		flags = append(flags, styles.AccentText.Render("shuffle"))
	}
	if p.Repeat {
		flags = append(flags, styles.AccentText.Render("repeat"))
	}
	if m.snapshot.HasQueue {
		flags = append(flags, styles.MutedText.Render(fmt.Sprintf("%d in queue", m.snapshot.QueueLength)))
	}
	lines = append(lines, strings.Join(flags, "  "))

	body := lipgloss.JoinVertical(lipgloss.Left, lines...)
	if m.snapshot.Offline() {
		// Last known state; dim it.
		body = styles.FaintText.Render(body)
	}
	return panel.Render(body)
}

func statusIcon(status string) string {
	switch status {
	case "play":
		return "▶"
	case "pause":
		return "⏸"
	default:
		return "■"
	}
}

func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	mnt := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mnt, s)
	}
	return fmt.Sprintf("%d:%02d", mnt, s)
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func joinNonEmpty(sep string, values ...string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}

// truncate shortens value to limit runes, adding an ellipsis. A limit below
// 4 leaves value unchanged.
func truncate(value string, limit int) string {
	if limit < 4 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
