package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/netbridge/internal/bridgeerr"
	"github.com/muurk/netbridge/internal/host"
)

// MaxEvents is how many events the monitor keeps.
const MaxEvents = 500

type monitorKeyMap struct {
	Clear key.Binding
	Help  key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings for the mini help view
func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Clear, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Clear},
		{k.Help, k.Quit},
	}
}

// eventMsg carries one delivery into the Bubble Tea loop. The handler's
// result is sent on done once Update has processed it.
type eventMsg struct {
	ev   Event
	done chan error
}

// MonitorConfig configures the monitor screen.
type MonitorConfig struct {
	Title   string
	Command string
	Params  map[string]string
	Status  string // e.g., "listening on 0.0.0.0:8080"
	Handler Handler
}

// MonitorModel is the Bubble Tea model behind Monitor. Its Update loop is
// the host thread: every event is recorded and handled there.
type MonitorModel struct {
	Config MonitorConfig

	Events      []Event
	Counts      map[host.Event]int
	Connections int
	Services    map[string]string // name -> address:port
	LastError   error

	// UI state
	Width        int
	Height       int
	Spinner      spinner.Model
	ServiceTable table.Model
	Help         help.Model
	Keys         monitorKeyMap
}

// NewMonitorModel creates the monitor model.
func NewMonitorModel(cfg MonitorConfig) MonitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Service", Width: 28},
			{Title: "Address", Width: 28},
		}),
		table.WithHeight(5),
	)

	width, height := GetTerminalSize()

	return MonitorModel{
		Config:       cfg,
		Counts:       make(map[host.Event]int),
		Services:     make(map[string]string),
		Width:        width,
		Height:       height,
		Spinner:      s,
		ServiceTable: t,
		Help:         help.New(),
		Keys: monitorKeyMap{
			Clear: key.NewBinding(
				key.WithKeys("c"),
				key.WithHelp("c", "clear log"),
			),
			Help: key.NewBinding(
				key.WithKeys("?"),
				key.WithHelp("?", "more help"),
			),
			Quit: key.NewBinding(
				key.WithKeys("q", "ctrl+c"),
				key.WithHelp("q", "quit"),
			),
		},
	}
}

// Init starts the spinner.
func (m MonitorModel) Init() tea.Cmd {
	return m.Spinner.Tick
}

// Update handles deliveries, keys and resizes.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m = m.record(msg.ev)
		var err error
		if m.Config.Handler != nil {
			err = m.Config.Handler(msg.ev)
			if err != nil {
				m.LastError = err
			}
		}
		msg.done <- err
		return m, nil

	case statusMsg:
		m.Config.Status = string(msg)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.Keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Clear):
			m.Events = nil
			m.LastError = nil
		case key.Matches(msg, m.Keys.Help):
			m.Help.ShowAll = !m.Help.ShowAll
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = clampWidth(msg.Width)
		m.Height = msg.Height
		m.Help.Width = m.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m MonitorModel) record(ev Event) MonitorModel {
	m.Counts[ev.Name]++

	switch ev.Name {
	case host.ConnectionOpened, host.ClientConnected:
		m.Connections++
	case host.ConnectionClosed:
		if m.Connections > 0 {
			m.Connections--
		}
	case host.ServiceResolved:
		if name, ok := ev.Arg(0).(string); ok {
			m.Services[name] = fmt.Sprintf("%v:%v", ev.Arg(2), ev.Arg(3))
		}
	case host.ServiceRemoved:
		if name, ok := ev.Arg(0).(string); ok {
			delete(m.Services, name)
		}
	}
	if ev.Name == host.ServiceResolved || ev.Name == host.ServiceRemoved {
		m.ServiceTable.SetRows(m.serviceRows())
	}

	m.Events = append(m.Events, ev)
	if over := len(m.Events) - MaxEvents; over > 0 {
		m.Events = append([]Event(nil), m.Events[over:]...)
	}
	return m
}

func (m MonitorModel) serviceRows() []table.Row {
	names := make([]string, 0, len(m.Services))
	for name := range m.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		rows = append(rows, table.Row{name, m.Services[name]})
	}
	return rows
}

// View renders the monitor.
func (m MonitorModel) View() string {
	var sections []string

	sections = append(sections, NewHeader(m.Config.Title, m.Config.Command, m.Config.Params).SetWidth(m.Width).Render())

	status := fmt.Sprintf("%s %s   connections: %d   services: %d   events: %d",
		m.Spinner.View(), m.Config.Status, m.Connections, len(m.Services), len(m.Events))
	sections = append(sections, StatusStyle.Render(status))

	if m.LastError != nil {
		sections = append(sections, ErrorMessageStyle.PaddingLeft(2).Render("handler error: "+m.LastError.Error()))
	}

	if len(m.Services) > 0 {
		sections = append(sections, SectionTitleStyle.Render("Services"), m.ServiceTable.View())
	}

	sections = append(sections, SectionTitleStyle.Render("Events"))

	// Leave room for the header, status, help and the services table.
	room := m.Height - 12
	if len(m.Services) > 0 {
		room -= 8
	}
	if room < 5 {
		room = 5
	}
	start := len(m.Events) - room
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, len(m.Events)-start)
	for _, ev := range m.Events[start:] {
		lines = append(lines, "  "+RenderEvent(ev))
	}
	if len(lines) == 0 {
		lines = append(lines, TroubleshootingItemStyle.Render("  waiting for events..."))
	}
	sections = append(sections, strings.Join(lines, "\n"))

	sections = append(sections, "  "+m.Help.View(m.Keys))

	return strings.Join(sections, "\n\n")
}

// Monitor is a full-screen host. Deliveries are sent into the Bubble Tea
// program and Invoke returns once Update has handled them, so the handler
// runs on the program's goroutine like any other host callback.
type Monitor struct {
	program *tea.Program
	exited  chan struct{}
}

// NewMonitor creates a monitor. Run must be called for deliveries to be
// processed.
func NewMonitor(cfg MonitorConfig, opts ...tea.ProgramOption) *Monitor {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	return &Monitor{
		program: tea.NewProgram(NewMonitorModel(cfg), opts...),
		exited:  make(chan struct{}),
	}
}

// Run blocks until the user quits or Quit is called.
func (m *Monitor) Run() error {
	defer close(m.exited)
	_, err := m.program.Run()
	return err
}

// statusMsg replaces the status line.
type statusMsg string

// SetStatus replaces the status line. It does not wait for the program, so
// it may be called before Run.
func (m *Monitor) SetStatus(status string) {
	go m.program.Send(statusMsg(status))
}

// Quit asks the program to exit.
func (m *Monitor) Quit() {
	m.program.Quit()
}

// Done is closed once Run has returned.
func (m *Monitor) Done() <-chan struct{} {
	return m.exited
}

// Invoke implements host.Invoker. After the program has exited every
// delivery fails with HostUnavailable.
func (m *Monitor) Invoke(target host.Handle, event host.Event, args ...interface{}) error {
	select {
	case <-m.exited:
		return bridgeerr.NewHostUnavailable(string(event))
	default:
	}

	msg := eventMsg{
		ev:   Event{Time: time.Now(), Target: target, Name: event, Args: args},
		done: make(chan error, 1),
	}
	m.program.Send(msg)

	select {
	case err := <-msg.done:
		return err
	case <-m.exited:
		return bridgeerr.NewHostUnavailable(string(event))
	}
}
