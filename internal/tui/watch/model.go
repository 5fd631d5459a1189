package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pistonhq/piston/internal/events"
)

// pluginActivity tracks the most recent execution seen for one plugin.
type pluginActivity struct {
	Name       string
	LastAction string
	LastSeen   time.Time
	Executions int
}

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	connected     bool
	uptimeSeconds int64
	pluginsLoaded int
	plugins       map[string]*pluginActivity
	eventLog      []events.Event

	spinner spinner.Model
	theme   Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Highlight

	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		plugins:   make(map[string]*pluginActivity),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		spinner:   sp,
		theme:     theme,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		e := events.Event(msg)

		// Newest first, capped.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}

		m.trackPlugin(e)
		m.connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.connected = true
		m.uptimeSeconds = msg.UptimeSeconds
		m.pluginsLoaded = msg.PluginsLoaded
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

func (m *Model) trackPlugin(e events.Event) {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)
	name, _ := data["plugin"].(string)
	if name == "" {
		return
	}

	pa, ok := m.plugins[name]
	if !ok {
		pa = &pluginActivity{Name: name}
		m.plugins[name] = pa
	}
	pa.LastSeen = e.At
	if e.Type == events.TypePluginExecuted {
		pa.Executions++
		if action, ok := data["action"].(string); ok {
			pa.LastAction = action
		}
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := m.renderHeader()
	plugins := m.renderPlugins()
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := m.theme.Dim.Render(" [q] Quit")

	parts := []string{header, plugins, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	status := m.theme.StatusFailed.Render("● disconnected")
	if m.connected {
		status = m.theme.StatusOK.Render("● connected")
	}

	line := fmt.Sprintf("%s PISTON %s  %s  uptime %s  plugins %d",
		m.spinner.View(),
		m.theme.Dim.Render(m.apiURL),
		status,
		(time.Duration(m.uptimeSeconds) * time.Second).String(),
		m.pluginsLoaded,
	)
	return m.theme.Border.Width(m.width - 4).Render(m.theme.Header.Render(line))
}

func (m Model) renderPlugins() string {
	title := m.theme.Title.Render("PLUGIN ACTIVITY")
	if len(m.plugins) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left, title,
			m.theme.Dim.Render("  No plugin activity yet"))
		return m.theme.Border.Width(m.width - 4).Render(content)
	}

	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		pa := m.plugins[name]
		line := fmt.Sprintf("  %-16s %-12s runs %-4d %s",
			m.theme.Highlight.Render(pa.Name),
			pa.LastAction,
			pa.Executions,
			m.theme.Dim.Render(pa.LastSeen.Format("15:04:05")),
		)
		lines = append(lines, line)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{title}, lines...)...)
	return m.theme.Border.Width(m.width - 4).Render(content)
}

// Run starts the TUI and blocks until the user quits.
func Run(apiURL, apiKey string) error {
	p := tea.NewProgram(New(apiURL, apiKey))
	_, err := p.Run()
	return err
}
