package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/kiosk/internal/conn"
	"github.com/five82/kiosk/internal/state"
)

// renderHeader renders the title bar and, when offline, the banner below it.
func (m Model) renderHeader() string {
	styles := m.theme.Styles()
	bar := styles.Header.Width(m.width)

	parts := []string{styles.Logo.Render("kiosk"), m.connectionBadge(styles)}
	if m.snapshot.Loading {
		parts = append(parts, m.spinner.View()+styles.MutedText.Render(" loading"))
	}
	if m.notice != "" {
		parts = append(parts, styles.WarningText.Render(m.notice))
	}
	header := bar.Render(strings.Join(parts, "  "))

	if !m.snapshot.Offline() {
		return header
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, m.renderBanner(styles))
}

// connectionBadge stays small while Reconnecting. Only Disconnected also
// gets the banner.
func (m Model) connectionBadge(styles Styles) string {
	switch m.snapshot.Connection {
	case conn.Connected:
		if m.snapshot.Reconnecting {
			return styles.FaintText.Render("● reconnecting")
		}
		return styles.SuccessText.Render("● connected")
	case conn.Connecting:
		return styles.WarningText.Render("◌ connecting")
	default:
		return styles.DangerText.Render("○ offline")
	}
}

func (m Model) renderBanner(styles Styles) string {
	lines := []string{"DISCONNECTED"}
	if reason := failureText(m.snapshot); reason != "" {
		lines = append(lines, reason)
	}
	lines = append(lines, "press r to reconnect")
	return styles.Banner.Width(m.width).Padding(1, 0).Render(strings.Join(lines, "\n"))
}

func failureText(s state.Snapshot) string {
	f := s.LastFailure
	switch f.Kind {
	case conn.FailureNeverConnected:
		return "player not reachable"
	case conn.FailureExhausted:
		return "gave up reconnecting"
	case conn.FailureZombie:
		return "connection stopped responding"
	case conn.FailureTransient:
		if f.Reason != "" {
			return "connection lost (" + f.Reason + ")"
		}
		return "connection lost"
	}
	return ""
}
