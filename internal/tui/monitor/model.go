package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/telaman/tsync/internal/models"
	"github.com/telaman/tsync/internal/syncer"
)

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 10

// Snapshot is one refresh worth of daemon state.
type Snapshot struct {
	Online    bool
	Pending   int
	Items     []models.Item
	LastDrain *syncer.Report
	Timestamp time.Time
}

// FetchFunc loads a fresh snapshot. It is called on every tick.
type FetchFunc func(ctx context.Context) (Snapshot, error)

// DrainFunc triggers a manual sync pass.
type DrainFunc func(ctx context.Context) error

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Snapshot Snapshot
	Err      error
}

// drainDoneMsg reports the outcome of a manual sync
type drainDoneMsg struct{ err error }

// Model is the bubbletea model for the sync monitor.
type Model struct {
	Fetch FetchFunc
	Drain DrainFunc

	Snap        Snapshot
	FetchErr    error
	LastRefresh time.Time
	Syncing     bool

	Width  int
	Height int

	Spinner spinner.Model

	RefreshInterval time.Duration
}

// NewModel creates a new monitor model
func NewModel(fetch FetchFunc, drain DrainFunc, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		Fetch:           fetch,
		Drain:           drain,
		Spinner:         sp,
		RefreshInterval: interval,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.Spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchData()
		case "s":
			if m.Drain != nil && !m.Syncing {
				m.Syncing = true
				return m, m.runDrain()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Snap = msg.Snapshot
		m.FetchErr = msg.Err
		m.LastRefresh = time.Now()
		return m, nil

	case drainDoneMsg:
		m.Syncing = false
		if msg.err != nil {
			m.FetchErr = msg.err
		}
		return m, m.fetchData()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := m.Fetch(ctx)
		return RefreshDataMsg{Snapshot: snap, Err: err}
	}
}

func (m Model) runDrain() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return drainDoneMsg{err: m.Drain(ctx)}
	}
}

// Run starts the monitor in the alternate screen.
func Run(fetch FetchFunc, drain DrainFunc, interval time.Duration) error {
	p := tea.NewProgram(NewModel(fetch, drain, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
