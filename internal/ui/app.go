package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/five82/kiosk/internal/conn"
	"github.com/five82/kiosk/internal/prefs"
	"github.com/five82/kiosk/internal/state"
)

// Controller is the part of conn.Manager the UI drives.
type Controller interface {
	Emit(event string, data any, ack conn.Ack)
	ForceReconnect()
}

// Options configures the UI.
type Options struct {
	Context    context.Context
	Controller Controller
	Store      *state.Store
	Prefs      prefs.Prefs
	PrefsPath  string
	LogPath    string // kiosk log shown by the log view; empty disables it
	PollTick   time.Duration
	Logger     *zap.Logger
}

const defaultPollTick = 250 * time.Millisecond

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	ctl       Controller
	store     *state.Store
	prefs     prefs.Prefs
	prefsPath string
	pollTick  time.Duration
	logger    *zap.Logger

	theme   Theme
	keys    keyMap
	help    help.Model
	spinner spinner.Model
	seekBar progress.Model
	width   int
	height  int
	ready   bool

	snapshot state.Snapshot
	notice   string

	logPath  string
	showLogs bool
	logs     viewport.Model
	logLines []string
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	pollTick := opts.PollTick
	if pollTick <= 0 {
		pollTick = defaultPollTick
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := opts.Prefs
	if p == (prefs.Prefs{}) {
		p = prefs.Default()
	}
	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}

	m := Model{
		ctx:       ctx,
		ctl:       opts.Controller,
		store:     opts.Store,
		prefs:     p,
		prefsPath: prefsPath,
		logPath:   opts.LogPath,
		pollTick:  pollTick,
		logger:    logger,
		keys:      defaultKeyMap(),
		help:      help.New(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	m.applyTheme(GetTheme(p.Theme))
	return m
}

func (m *Model) applyTheme(t Theme) {
	m.theme = t
	styles := t.Styles()
	m.spinner.Style = styles.AccentText
	m.seekBar = progress.New(
		progress.WithSolidFill(t.Accent),
		progress.WithoutPercentage(),
		progress.WithWidth(m.barWidth()),
	)
	m.help.Styles.ShortKey = styles.AccentText
	m.help.Styles.ShortDesc = styles.MutedText
	m.help.Styles.FullKey = styles.AccentText
	m.help.Styles.FullDesc = styles.MutedText
}

func (m Model) barWidth() int {
	w := m.width - 12
	if w < 10 {
		return 10
	}
	if w > 60 {
		return 60
	}
	return w
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.pollTick), m.spinner.Tick, watchContext(m.ctx)}
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.seekBar.Width = m.barWidth()
		m.resizeLogViewport()
		m.ready = true
		return m, nil

	case tickMsg:
		var cmds []tea.Cmd
		if m.store != nil {
			cmds = append(cmds, fetchSnapshotCmd(m.store))
		}
		if m.showLogs {
			cmds = append(cmds, fetchLogsCmd(m.logPath))
		}
		cmds = append(cmds, tickCmd(m.pollTick))
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.snapshot = state.Snapshot(msg)
		return m, nil

	case logLinesMsg:
		m.setLogLines(msg)
		return m, nil

	case logErrorMsg:
		m.logger.Debug("read log", zap.Error(msg.err))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case doneMsg:
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}
	if m.help.ShowAll {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.renderHeader(),
			m.theme.Styles().Panel.Render(m.help.View(m.keys)),
		)
	}
	if m.showLogs {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.renderHeader(),
			m.renderLogs(),
			m.renderFooter(),
		)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderNowPlaying(),
		m.renderFooter(),
	)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""

	if m.help.ShowAll {
		// Any key closes help
		m.help.ShowAll = false
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.applyTheme(GetTheme(NextTheme(m.theme.Name)))
		m.prefs.Theme = m.theme.Name
		if err := prefs.Save(m.prefsPath, m.prefs); err != nil {
			m.logger.Warn("save preferences", zap.Error(err))
		}
		return m, nil

	case key.Matches(msg, m.keys.Reconnect):
		if m.ctl != nil {
			m.logger.Info("manual reconnect")
			m.ctl.ForceReconnect()
			m.notice = "reconnecting..."
		}
		return m, nil

	case key.Matches(msg, m.keys.Logs):
		if m.logPath == "" {
			m.notice = "no log file"
			return m, nil
		}
		m.showLogs = !m.showLogs
		if m.showLogs {
			return m, fetchLogsCmd(m.logPath)
		}
		return m, nil
	}

	if m.showLogs {
		if key.Matches(msg, m.keys.Back) {
			m.showLogs = false
			return m, nil
		}
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		return m, cmd
	}

	return m.handleControlKey(msg)
}

func (m Model) handleControlKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var (
		event string
		data  any
	)
	p := m.snapshot.Playback
	switch {
	case key.Matches(msg, m.keys.Toggle):
		event = "toggle"
	case key.Matches(msg, m.keys.Next):
		event = "next"
	case key.Matches(msg, m.keys.Prev):
		event = "prev"
	case key.Matches(msg, m.keys.VolumeUp):
		event, data = "volume", clampVolume(p.Volume+m.prefs.VolumeStep)
	case key.Matches(msg, m.keys.VolumeDown):
		event, data = "volume", clampVolume(p.Volume-m.prefs.VolumeStep)
	case key.Matches(msg, m.keys.Mute):
		event = "mute"
		if p.Mute {
			event = "unmute"
		}
	case key.Matches(msg, m.keys.Browse):
		event, data = "browseLibrary", map[string]string{"uri": "music-library"}
	default:
		return m, nil
	}

	if m.snapshot.Offline() || m.ctl == nil {
		m.notice = "offline, press r to reconnect"
		return m, nil
	}
	m.ctl.Emit(event, data, nil)
	return m, nil
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Messages

type tickMsg time.Time

type snapshotMsg state.Snapshot

type doneMsg struct{}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(store.Snapshot())
	}
}

func watchContext(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return doneMsg{}
	}
}

// Run starts the Bubble Tea program.
func Run(opts Options) error {
	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
