package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/store"
)

// List styles
var (
	listDimStyle   = lipgloss.NewStyle().Foreground(colorDim)
	listErrorStyle = lipgloss.NewStyle().Foreground(colorRed)
)

// =============================================================================
// QueueWatchModel - Live queue view
// =============================================================================

// queueSnapshot is one poll of the queue.
type queueSnapshot struct {
	Stats    store.QueueStats        `json:"stats"`
	Failures []model.IndexingRequest `json:"failures,omitempty"`
	At       time.Time               `json:"at"`
}

// queueFetcher polls the queue.
type queueFetcher func(ctx context.Context) (queueSnapshot, error)

type snapshotMsg queueSnapshot

type fetchErrMsg struct{ err error }

type tickMsg time.Time

// QueueWatchModel is the bubbletea model behind "queue watch".
type QueueWatchModel struct {
	fetch    queueFetcher
	interval time.Duration

	Snapshot *queueSnapshot
	Previous *queueSnapshot
	Err      error
}

// NewQueueWatchModel creates a model polling fetch every interval.
func NewQueueWatchModel(fetch queueFetcher, interval time.Duration) QueueWatchModel {
	return QueueWatchModel{fetch: fetch, interval: interval}
}

func (m QueueWatchModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := m.fetch(ctx)
		if err != nil {
			return fetchErrMsg{err}
		}
		return snapshotMsg(snap)
	}
}

func (m QueueWatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m QueueWatchModel) Init() tea.Cmd {
	return m.poll()
}

func (m QueueWatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}
	case snapshotMsg:
		snap := queueSnapshot(msg)
		m.Previous, m.Snapshot, m.Err = m.Snapshot, &snap, nil
		return m, m.tick()
	case fetchErrMsg:
		m.Err = msg.err
		return m, m.tick()
	case tickMsg:
		return m, m.poll()
	}
	return m, nil
}

func (m QueueWatchModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Indexing Queue"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("every %s  r refresh  q quit", m.interval)))
	b.WriteString("\n\n")

	if m.Err != nil {
		b.WriteString(listErrorStyle.Render(iconError + " " + m.Err.Error()))
		b.WriteString("\n\n")
	}
	if m.Snapshot == nil {
		b.WriteString(listDimStyle.Render("loading..."))
		return b.String()
	}

	s := m.Snapshot.Stats
	b.WriteString(statsTable(s, m.throughput()).Render())
	b.WriteString("\n")

	if len(m.Snapshot.Failures) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleWarning.Render("Failing requests"))
		b.WriteString("\n")
		b.WriteString(failuresTable(m.Snapshot.Failures).Render())
		b.WriteString("\n")
	}

	b.WriteString(listDimStyle.Render("updated " + m.Snapshot.At.Format("15:04:05")))
	return b.String()
}

// throughput returns the change in pending requests per minute between the
// last two polls, or "" before the second poll.
func (m QueueWatchModel) throughput() string {
	if m.Previous == nil || m.Snapshot == nil {
		return ""
	}
	elapsed := m.Snapshot.At.Sub(m.Previous.At)
	if elapsed <= 0 {
		return ""
	}
	delta := float64(m.Snapshot.Stats.Pending - m.Previous.Stats.Pending)
	return fmt.Sprintf("%+.1f/min", delta/elapsed.Minutes())
}

// =============================================================================
// Tables
// =============================================================================

var headerStyle = lipgloss.NewStyle().Foreground(colorGray).Bold(true)

func statsTable(s store.QueueStats, rate string) *table.Table {
	oldest := "-"
	if s.OldestAt != nil {
		oldest = formatAge(time.Since(*s.OldestAt))
	}
	if rate == "" {
		rate = "-"
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Pending", "Claimed", "Failing", "Oldest", "Trend").
		Row(fmt.Sprint(s.Pending), fmt.Sprint(s.Claimed), fmt.Sprint(s.Failing), oldest, rate).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if col == 2 && s.Failing > 0 {
				return lipgloss.NewStyle().Foreground(colorYellow).Padding(0, 1)
			}
			return lipgloss.NewStyle().Foreground(colorWhite).Padding(0, 1)
		})
}

func failuresTable(failures []model.IndexingRequest) *table.Table {
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{
			f.ArtifactCoordinate.String(),
			f.SourceID,
			fmt.Sprint(f.FailedAttempts),
			truncate(f.LastError, 60),
		})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Coordinate", "Source", "Attempts", "Last error").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if col == 3 {
				return listDimStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// =============================================================================
// Helpers
// =============================================================================

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
