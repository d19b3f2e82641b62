package main

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/config"
	"github.com/colrdavidson/spall-web/pipeline"
)

type eventMsg pipeline.Event

type doneMsg struct {
	err    error
	report *pipeline.Report
}

type progressModel struct {
	err      error
	report   *pipeline.Report
	cancel   context.CancelFunc
	spinner  spinner.Model
	profile  config.Profile
	current  pipeline.Stage
	done     bool
	canceled bool
}

func newProgressModel(profile config.Profile, cancel context.CancelFunc) *progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	return &progressModel{
		spinner: s,
		profile: profile,
		cancel:  cancel,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(
		tea.Println(titleStyle.Render("spall build")+" "+string(m.profile)),
		m.spinner.Tick,
	)
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The terminal is in raw mode, so Control-C arrives as a key rather
		// than a signal. The build reports its own cancellation.
		if msg.String() == "ctrl+c" && !m.canceled {
			m.canceled = true
			m.cancel()
		}
		return m, nil

	case eventMsg:
		e := pipeline.Event(msg)
		if e.Status == pipeline.StatusStarted {
			m.current = e.Stage
		}
		if line, ok := eventLine(e); ok && e.Status != pipeline.StatusStarted {
			return m, tea.Println(line)
		}
		return m, nil

	case doneMsg:
		m.done = true
		m.err = msg.err
		m.report = msg.report
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if m.done {
		return ""
	}
	if m.canceled {
		return m.spinner.View() + " " + helpStyle.Render("Stopping...")
	}
	if m.current == "" {
		return m.spinner.View() + " " + helpStyle.Render("Starting...")
	}
	return m.spinner.View() + " " + stageStyle.Render(m.current.Title())
}

// runInteractive builds with a spinner on the terminal.
func runInteractive(ctx context.Context, cfg *config.Config, profile config.Profile, logger *zap.Logger) (*pipeline.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newProgressModel(profile, cancel)
	p := tea.NewProgram(m)

	b := pipeline.New(cfg,
		pipeline.WithLogger(logger),
		pipeline.WithObserver(pipeline.ObserverFunc(func(e pipeline.Event) {
			p.Send(eventMsg(e))
		})))

	go func() {
		report, err := b.Run(ctx, profile)
		p.Send(doneMsg{report: report, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	fm := final.(*progressModel)
	return fm.report, fm.err
}
