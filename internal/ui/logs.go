package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/kiosk/internal/logtail"
)

const logFetchLimit = 200

type logLinesMsg []string

type logErrorMsg struct{ err error }

func fetchLogsCmd(path string) tea.Cmd {
	return func() tea.Msg {
		lines, err := logtail.Read(path, logFetchLimit)
		if err != nil {
			return logErrorMsg{err}
		}
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = logtail.Format(l)
		}
		return logLinesMsg(out)
	}
}

func (m *Model) resizeLogViewport() {
	// header, footer and a title line
	h := m.height - 4
	if h < 3 {
		h = 3
	}
	if m.logs.Width == 0 && m.logs.Height == 0 {
		m.logs = viewport.New(m.width, h)
		return
	}
	m.logs.Width = m.width
	m.logs.Height = h
}

func (m *Model) setLogLines(lines []string) {
	m.logLines = lines
	follow := m.logs.AtBottom() || m.logs.TotalLineCount() == 0
	m.logs.SetContent(strings.Join(lines, "\n"))
	if follow {
		m.logs.GotoBottom()
	}
}

func (m Model) renderLogs() string {
	styles := m.theme.Styles()
	title := styles.AccentText.Render("log") + "  " + styles.FaintText.Render(truncate(m.logPath, m.width-8))
	if len(m.logLines) == 0 {
		return title + "\n" + styles.MutedText.Render("no log lines yet")
	}
	return title + "\n" + m.logs.View()
}
