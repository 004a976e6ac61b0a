package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/five82/kiosk/internal/latency"
)

// renderFooter shows round trip latency and the short key help.
func (m Model) renderFooter() string {
	styles := m.theme.Styles()
	parts := []string{}
	if m.prefs.ShowLatency {
		if text := latencyText(m.snapshot.Latency); text != "" {
			parts = append(parts, styles.InfoText.Render(text))
		}
	}
	parts = append(parts, m.help.ShortHelpView(m.keys.ShortHelp()))
	return styles.Footer.Width(m.width).Render(strings.Join(parts, "   "))
}

func latencyText(s latency.Stats) string {
	if s.Count == 0 {
		return ""
	}
	return fmt.Sprintf("rtt %s  avg %s  p95 %s  (%d)",
		formatLatency(s.Last), formatLatency(s.Mean), formatLatency(s.P95), s.Count)
}

func formatLatency(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
