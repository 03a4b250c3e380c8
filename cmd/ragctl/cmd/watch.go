// Package cmd's watch dashboard is grounded on internal/monitor's
// BubbleTea Model (NewModel/Init/Update/View, progress bars, a
// sparkline history, and a periodic tea.Tick poll), generalized from
// Victoria Metrics scraping to polling ragserver's /sync/status.
package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	watchInterval  = 2 * time.Second
	historyPoints  = 30
	sparklineWidth = 30
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("36"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type statusSnapshot struct {
	Stage      string  `json:"stage"`
	Percentage float64 `json:"percentage"`
	Status     string  `json:"status"`
}

type watchModel struct {
	serverURL string
	apiKey    string

	percentage progress.Model
	history    []float64
	stage      string
	status     string
	err        error
	quitting   bool
}

func newWatchModel(serverURL, apiKey string) watchModel {
	return watchModel{
		serverURL:  serverURL,
		apiKey:     apiKey,
		percentage: progress.New(progress.WithDefaultGradient()),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(tick(), fetchStatus(m.serverURL, m.apiKey))
}

func tick() tea.Cmd {
	return tea.Tick(watchInterval, func(t time.Time) tea.Msg { return tickMsg{} })
}

type tickMsg struct{}

type statusMsg struct {
	snapshot statusSnapshot
	err      error
}

func fetchStatus(serverURL, apiKey string) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, serverURL+"/sync/status", nil)
		if err != nil {
			return statusMsg{err: err}
		}
		if apiKey != "" {
			req.Header.Set("X-API-Key", apiKey)
		}
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return statusMsg{err: err}
		}
		defer resp.Body.Close()

		var body struct {
			Latest statusSnapshot `json:"latest"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{snapshot: body.Latest}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(tick(), fetchStatus(m.serverURL, m.apiKey))
	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.stage = msg.snapshot.Stage
		m.status = msg.snapshot.Status
		m.history = append(m.history, msg.snapshot.Percentage)
		if len(m.history) > historyPoints {
			m.history = m.history[len(m.history)-historyPoints:]
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("ragctl sync watch: %v\n", m.err))
	}

	spark := sparkline.New(sparklineWidth, 3)
	for _, v := range m.history {
		spark.Push(v)
	}

	pct := 0.0
	if len(m.history) > 0 {
		pct = m.history[len(m.history)-1] / 100
	}

	return titleStyle.Render("ragctl sync watch") + "\n\n" +
		fmt.Sprintf("stage:  %s\nstatus: %s\n\n", m.stage, m.status) +
		m.percentage.ViewAs(pct) + "\n\n" +
		spark.View() + "\n\n(press q to quit)\n"
}

func runWatch(serverURL, apiKey string) error {
	p := tea.NewProgram(newWatchModel(serverURL, apiKey))
	_, err := p.Run()
	return err
}
