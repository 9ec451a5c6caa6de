package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// GameUpdate is sent to the progress display for every finished game.
type GameUpdate struct {
	GameID   string
	Result   string
	Plies    int
	Examples int
}

type model struct {
	gamesPlayed   int
	totalExamples int
	moves         int64
	inferences    int64
	startTime     time.Time
	recentGames   []string
	updates       chan GameUpdate
	stats         func() string
}

func initialModel(updates chan GameUpdate, stats func() string) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
		stats:     stats,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return tea.Quit()
		}
		return u
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		m.inferences = totalInferences.Load()
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.totalExamples += msg.Examples
		line := fmt.Sprintf("%s: %s after %d plies, %d rows", msg.GameID[:8], msg.Result, msg.Plies, msg.Examples)
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	rate := func(n float64) float64 {
		if duration.Seconds() < 1 {
			return 0
		}
		return n / duration.Seconds()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Games Played:     %d\n", m.gamesPlayed)
	fmt.Fprintf(&sb, "Total Examples:   %d\n", m.totalExamples)
	fmt.Fprintf(&sb, "Total Moves:      %d\n", m.moves)
	fmt.Fprintf(&sb, "Total Inferences: %d\n", m.inferences)
	fmt.Fprintf(&sb, "Duration:         %s\n", duration.Round(time.Second))
	fmt.Fprintf(&sb, "Games/Sec:        %.2f\n", rate(float64(m.gamesPlayed)))
	fmt.Fprintf(&sb, "Moves/Sec:        %.2f\n", rate(float64(m.moves)))
	fmt.Fprintf(&sb, "Inferences/Sec:   %.2f\n", rate(float64(m.inferences)))
	if m.stats != nil {
		if s := m.stats(); s != "" {
			sb.WriteString(s + "\n")
		}
	}

	sb.WriteString("\nRecent Games:\n")
	for _, g := range m.recentGames {
		sb.WriteString(g + "\n")
	}
	sb.WriteString("\nPress q to quit.\n")
	return sb.String()
}
