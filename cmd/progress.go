package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/engine"
	"github.com/airframesio/data-differ/cmd/reporter"
)

const maxMessages = 8

// runController is the part of a run the TUI observes and steers
type runController interface {
	progressSource
	stoppable
}

type snapshotMsg reporter.Progress

type snapshotsClosedMsg struct{}

type progressModel struct {
	run        runController
	sub        *reporter.Subscription
	current    reporter.Progress
	overall    progress.Model
	spinner    spinner.Model
	sourceA    string
	sourceB    string
	messages   []string
	width      int
	done       bool
	cancelling bool
	started    time.Time
	taskInfo   *TaskInfo
}

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Margin(0, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)
)

func newProgressModel(run runController, cfg *comparison.Config, taskInfo *TaskInfo) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return progressModel{
		run:      run,
		sub:      run.Subscribe(16),
		current:  run.Current(),
		overall:  progress.New(progress.WithScaledGradient("#FF7CCB", "#FDFF8C"), progress.WithWidth(60)),
		spinner:  s,
		sourceA:  cfg.SourceA.Label(),
		sourceB:  cfg.SourceB.Label(),
		started:  time.Now(),
		taskInfo: taskInfo,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.sub))
}

// waitForSnapshot delivers the next snapshot of the subscription as a message
func waitForSnapshot(sub *reporter.Subscription) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-sub.C()
		if !ok {
			return snapshotsClosedMsg{}
		}
		return snapshotMsg(p)
	}
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.overall.Width = max(msg.Width-10, 10)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case progress.FrameMsg:
		model, cmd := m.overall.Update(msg)
		if pm, ok := model.(progress.Model); ok {
			m.overall = pm
		}
		return m, cmd
	case snapshotMsg:
		return m.handleSnapshot(reporter.Progress(msg))
	case snapshotsClosedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.cancelling || m.current.CancelRequested || m.current.Stage.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		m.run.RequestCancel()
		m.cancelling = true
		m.addMessage("🛑 Cancelling, press again to leave immediately")
	case "f":
		if err := m.run.RequestFinishEarly(); err != nil {
			if errors.Is(err, engine.ErrFinishEarlyUnsupported) {
				m.addMessage("⚠️  Finish early needs the hash-bucket or hash-range algorithm")
			} else {
				m.addMessage("⚠️  " + err.Error())
			}
			return m, nil
		}
		m.addMessage("⏩ Finishing the current bucket, then stopping with partial results")
	}
	return m, nil
}

func (m progressModel) handleSnapshot(p reporter.Progress) (tea.Model, tea.Cmd) {
	prev := m.current
	m.current = p

	if p.LastBucket != nil && p.CompletedBuckets > prev.CompletedBuckets {
		m.addMessage(fmt.Sprintf("✅ %s done (%d/%d rows)", bucketLabel(p.LastBucket), p.LastBucket.CountA, p.LastBucket.CountB))
	}
	if p.Stage == reporter.StageSplitting && p.CurrentBucket != nil && prev.TotalBuckets != p.TotalBuckets {
		m.addMessage(fmt.Sprintf("✂️  Split %s", bucketLabel(p.CurrentBucket)))
	}

	if m.taskInfo != nil {
		m.taskInfo.apply(p)
		_ = WriteTaskInfo(m.taskInfo)
	}

	cmd := m.overall.SetPercent(p.Percent() / 100)
	if p.Stage.Terminal() {
		m.done = true
		return m, tea.Sequence(cmd, tea.Quit)
	}
	return m, tea.Batch(cmd, waitForSnapshot(m.sub))
}

func (m *progressModel) addMessage(msg string) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
}

func (m progressModel) renderHeader() []string {
	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF7CCB")).Bold(true)
	sourceStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FDFF8C"))
	return []string{
		"",
		"   " + titleStyle.Render("Data Differ") + "  " + helpStyle.Render(Version),
		"   " + sourceStyle.Render(m.sourceA) + "  ⇄  " + sourceStyle.Render(m.sourceB),
		"",
	}
}

func (m progressModel) renderStage() []string {
	p := m.current
	var sections []string

	line := fmt.Sprintf("   %s %s", m.spinner.View(), stageDescription(p.Stage))
	switch {
	case p.Stage == reporter.StageFailed:
		sections = append(sections, errorStyle.Render(line))
	case p.CancelRequested || p.FinishEarlyRequested:
		sections = append(sections, warnStyle.Render(line+" (stop requested)"))
	default:
		sections = append(sections, stageStyle.Render(line))
	}

	if p.TotalBuckets > 0 {
		sections = append(sections, "")
		sections = append(sections, progressInfoStyle.Render(fmt.Sprintf("   Buckets: %d/%d", p.CompletedBuckets, p.TotalBuckets)))
		sections = append(sections, "   "+m.overall.View())
	}
	if p.CurrentBucket != nil {
		sections = append(sections, progressInfoStyle.Render(fmt.Sprintf("   Current: %s depth %d, %d/%d rows",
			bucketLabel(p.CurrentBucket), p.CurrentBucket.Depth, p.CurrentBucket.CountA, p.CurrentBucket.CountB)))
	}
	sections = append(sections, progressInfoStyle.Render(fmt.Sprintf("   Rows compared: %d   Differences: %d   Elapsed: %s",
		p.ProcessedRows, p.DiffRows, time.Since(m.started).Round(time.Second))))
	if p.Error != "" {
		sections = append(sections, errorStyle.Render("   ❌ "+p.Error))
	}
	return sections
}

func (m progressModel) renderMessages() []string {
	if len(m.messages) == 0 {
		return nil
	}
	sections := []string{""}
	for _, msg := range m.messages {
		sections = append(sections, "     "+msg)
	}
	return sections
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}

	var sections []string
	sections = append(sections, m.renderHeader()...)
	sections = append(sections, m.renderStage()...)
	sections = append(sections, m.renderMessages()...)

	help := "   q/ctrl+c: cancel"
	if m.current.SupportsFinishEarly {
		help += "   f: finish early with partial results"
	}
	sections = append(sections, "", helpStyle.Render(help))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func stageDescription(stage reporter.Stage) string {
	switch stage {
	case reporter.StageIdle, reporter.StageQueued, "":
		return "Starting..."
	case reporter.StageCounting:
		return "Counting rows in bucket"
	case reporter.StageSplitting:
		return "Splitting oversized bucket"
	case reporter.StageInserting:
		return "Diffing bucket"
	case reporter.StageBucketComplete:
		return "Bucket complete"
	case reporter.StageFinalizing:
		return "Merging results"
	default:
		return strings.ToUpper(string(stage[:1])) + string(stage[1:])
	}
}
