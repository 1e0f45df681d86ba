// Package ui renders run progress and results in the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"streamgrab/internal/media"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

type jobMsg media.StreamJob

type finishedMsg struct{}

type model struct {
	spinner     spinner.Model
	jobs        []media.StreamJob
	interrupt   func()
	interrupted bool
	finished    bool
}

func newModel(jobs []*media.StreamJob, interrupt func()) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = activeStyle

	m := model{spinner: s, interrupt: interrupt}
	for _, j := range jobs {
		m.jobs = append(m.jobs, *j)
	}
	return m
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case jobMsg:
		for i := range m.jobs {
			if m.jobs[i].Index == msg.Index {
				m.jobs[i] = media.StreamJob(msg)
			}
		}
		return m, nil
	case finishedMsg:
		m.finished = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && !m.interrupted {
			m.interrupted = true
			if m.interrupt != nil {
				m.interrupt()
			}
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	done := 0
	for _, j := range m.jobs {
		if j.Status.Terminal() {
			done++
		}
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("streamgrab  %d/%d finished", done, len(m.jobs))))
	b.WriteString("\n\n")

	for _, j := range m.jobs {
		fmt.Fprintf(&b, "%s #%-3d %-12s %s", m.icon(j), j.Index, statusLabel(j), displayName(j))
		if j.BytesWritten > 0 {
			fmt.Fprintf(&b, "  %s", pendingStyle.Render(humanize.Bytes(uint64(j.BytesWritten))))
		}
		if j.Failure != nil {
			fmt.Fprintf(&b, "  %s", failedStyle.Render(j.Failure.Error()))
		}
		b.WriteString("\n")
	}

	if m.interrupted && !m.finished {
		b.WriteString("\n" + failedStyle.Render("interrupted, cleaning up...") + "\n")
	}
	return b.String()
}

func (m model) icon(j media.StreamJob) string {
	switch j.Status {
	case media.Done:
		return doneStyle.Render("✓")
	case media.Failed:
		return failedStyle.Render("✗")
	case media.Pending:
		return pendingStyle.Render("·")
	default:
		return m.spinner.View()
	}
}

func statusLabel(j media.StreamJob) string {
	label := j.Status.String()
	switch j.Status {
	case media.Done:
		return doneStyle.Render(label)
	case media.Failed:
		return failedStyle.Render(label)
	case media.Pending:
		return pendingStyle.Render(label)
	default:
		return activeStyle.Render(label)
	}
}

func displayName(j media.StreamJob) string {
	if j.Title != "" {
		return j.Title
	}
	return j.SourceURL
}

// Live shows a job list that updates as the pipeline reports progress.
type Live struct {
	program *tea.Program
	done    chan struct{}
}

// NewLive prepares a live view for jobs. interrupt is called once when the
// user presses ctrl+c.
func NewLive(jobs []*media.StreamJob, out io.Writer, interrupt func()) *Live {
	return &Live{
		program: tea.NewProgram(newModel(jobs, interrupt), tea.WithOutput(out)),
		done:    make(chan struct{}),
	}
}

// Start runs the view in the background.
func (l *Live) Start() {
	go func() {
		defer close(l.done)
		_, _ = l.program.Run()
	}()
}

// Observe records a job update. Safe for concurrent use.
func (l *Live) Observe(job media.StreamJob) {
	l.program.Send(jobMsg(job))
}

// Stop renders the final state and waits for the view to exit.
func (l *Live) Stop() {
	l.program.Send(finishedMsg{})
	<-l.done
}
