package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sambaleuk/crossroads/internal/orchestrator"
	"github.com/sambaleuk/crossroads/internal/scheduler"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// outputTail caps how many output lines the follow view retains.
const outputTail = 500

var (
	followTitleStyle = lipgloss.NewStyle().Bold(true)
	followSlotStyle  = lipgloss.NewStyle().Faint(true)
	followDoneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	followFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// followDispatch renders the live slot board until the dispatch finishes.
func followDispatch(orch *orchestrator.Orchestrator, requestID string, totalSlots int) error {
	m := newFollowModel(orch, requestID, totalSlots)
	_, err := tea.NewProgram(m).Run()
	return err
}

type eventMsg struct{ ev orchestrator.Event }
type streamClosedMsg struct{}

type followModel struct {
	orch      *orchestrator.Orchestrator
	requestID string

	spin     spinner.Model
	view     viewport.Model
	phase    models.SessionPhase
	progress scheduler.Progress
	slots    map[int]models.SlotLifecycle
	lines    []string
	done     bool
	width    int
}

func newFollowModel(orch *orchestrator.Orchestrator, requestID string, totalSlots int) followModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(80, 12)

	return followModel{
		orch:      orch,
		requestID: requestID,
		spin:      sp,
		view:      vp,
		phase:     models.PhaseIdle,
		slots:     make(map[int]models.SlotLifecycle, totalSlots),
	}
}

func (m followModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitEvent())
}

// waitEvent blocks on the facade's event stream and converts the next event
// into a tea message.
func (m followModel) waitEvent() tea.Cmd {
	return func() tea.Msg {
		for {
			ev, ok := <-m.orch.Events()
			if !ok {
				return streamClosedMsg{}
			}
			if ev.RequestID == m.requestID {
				return eventMsg{ev: ev}
			}
		}
	}
}

func (m followModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			_ = m.orch.Cancel(m.requestID)
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.view.Width = msg.Width - 2
		m.view.Height = msg.Height - 8

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit

	case eventMsg:
		ev := msg.ev
		switch ev.Type {
		case orchestrator.EventPhaseChanged:
			m.phase = ev.Phase
		case orchestrator.EventProgress:
			m.progress = ev.Progress
		case orchestrator.EventSlotUpdated:
			m.slots[ev.SlotNumber] = ev.Slot.Lifecycle
		case orchestrator.EventSlotOutput:
			m.appendOutput(ev.SlotNumber, ev.Chunk)
		case orchestrator.EventSlotDivergence:
			m.appendOutput(ev.SlotNumber, "! "+ev.Message)
		case orchestrator.EventError:
			m.appendOutput(0, "error: "+ev.Message)
		case orchestrator.EventCompleted:
			m.done = true
			return m, tea.Quit
		}
		return m, m.waitEvent()
	}

	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

func (m *followModel) appendOutput(slot int, chunk string) {
	for _, line := range strings.Split(strings.TrimRight(chunk, "\n"), "\n") {
		if slot > 0 {
			line = fmt.Sprintf("[%d] %s", slot, line)
		}
		m.lines = append(m.lines, line)
	}
	if len(m.lines) > outputTail {
		m.lines = m.lines[len(m.lines)-outputTail:]
	}
	m.view.SetContent(strings.Join(m.lines, "\n"))
	m.view.GotoBottom()
}

func (m followModel) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s  %s\n",
		m.spin.View(),
		followTitleStyle.Render("crossroads"),
		string(m.phase))
	fmt.Fprintf(&b, "layer %d/%d  stories %d/%d\n",
		m.progress.CurrentLayer+1, max(m.progress.TotalLayers, 1),
		m.progress.StoriesComplete, m.progress.TotalStories)

	nums := make([]int, 0, len(m.slots))
	for n := range m.slots {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		lifecycle := m.slots[n]
		style := followSlotStyle
		switch lifecycle {
		case models.SlotCompleted:
			style = followDoneStyle
		case models.SlotFailed:
			style = followFailStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("  slot %d: %s", n, lifecycle)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(followSlotStyle.Render("q to cancel and quit"))
	return b.String()
}
