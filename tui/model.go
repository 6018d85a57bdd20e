package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/flowbike/ebike-monitor/internal/reading"
)

// tickMsg is fired every second to update the next-poll countdown.
type tickMsg time.Time

// state represents the current phase of the CLI run.
type state int

const (
	stateInit     state = iota
	stateLogin          // waiting for the user to paste the redirect
	stateFetching       // poll cycle in flight
	stateWaiting        // idle until the next poll
	stateStopped        // interrupted by the user
	stateError          // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// maxStatusLines bounds the status log; monitor runs for hours.
const maxStatusLines = 8

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the monitor TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	loginURL string
	bike     Bike

	reading   *reading.Reading
	readingAt time.Time
	nextAt    time.Time
	remaining time.Duration
	errMsg    string

	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 2)

	stylePanel = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("244")).
			Padding(0, 1)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("42"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.state != stateWaiting {
			return m, nil
		}
		m.remaining = max(time.Until(m.nextAt), 0)
		if m.remaining > 0 {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case MsgBanner:
		return m, nil

	case MsgTokensFound:
		m.addStatus(statusOK, "Loaded tokens from "+msg.Path)
		return m, nil

	case MsgTokensNotFound:
		m.addStatus(statusWarn, "No tokens in "+msg.Path+", run login first")
		return m, nil

	case MsgLoginURL:
		m.loginURL = msg.URL
		m.state = stateLogin
		return m, nil

	case MsgLoginSuccess:
		m.state = stateInit
		m.addStatus(statusOK, "Login successful")
		return m, nil

	case MsgBikes:
		if len(msg.Bikes) == 0 {
			m.addStatus(statusWarn, "No bikes registered on this account")
			return m, nil
		}
		for _, b := range msg.Bikes {
			m.addStatus(statusInfo, fmt.Sprintf("%s  %s", b.ID, b.Name))
		}
		return m, nil

	case MsgBikeSelected:
		m.bike = msg.Bike
		return m, nil

	case MsgTokenRefreshed:
		m.addStatus(statusOK, fmt.Sprintf("Access token refreshed (expires in %s)", formatDuration(msg.ExpiresIn)))
		return m, nil

	case MsgTokenSaved:
		m.addStatus(statusOK, "Tokens saved to "+msg.Path)
		return m, nil

	case MsgTokenSaveFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Warning: failed to save tokens: %v", msg.Err))
		return m, nil

	case MsgMonitoring:
		m.addStatus(statusInfo, "Checking every "+formatDuration(msg.Interval))
		return m, nil

	case MsgFetching:
		m.state = stateFetching
		return m, nil

	case MsgReading:
		m.reading = msg.Reading
		m.readingAt = msg.At
		m.state = stateWaiting
		return m, nil

	case MsgCycleFailed:
		m.state = stateWaiting
		m.addStatus(statusWarn, fmt.Sprintf("Poll failed: %v", msg.Err))
		return m, nil

	case MsgStatusSaved:
		if msg.Live {
			m.addStatus(statusOK, "Live data saved to "+msg.Path)
		} else {
			m.addStatus(statusInfo, "Status saved to "+msg.Path)
		}
		return m, nil

	case MsgStatusSaveFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Warning: failed to save status: %v", msg.Err))
		return m, nil

	case MsgNextCycle:
		m.nextAt = msg.At
		m.remaining = time.Until(msg.At)
		m.state = stateWaiting
		return m, tickAfterSecond()

	case MsgStopped:
		m.state = stateStopped
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	if m.state == stateError {
		return tea.NewView(m.viewError())
	}
	return tea.NewView(m.viewMain())
}

func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	title := "  eBike Battery Monitor  "
	if m.bike.Name != "" {
		title = "  " + m.bike.Name + "  "
	}
	b.WriteString(styleTitleBox.Render(title))
	b.WriteString("\n\n")

	if m.state == stateLogin {
		b.WriteString(styleBold.Render("Open this link in a browser and sign in:"))
		b.WriteString("\n")
		b.WriteString(m.loginURL)
		b.WriteString("\n\n")
		b.WriteString(styleDim.Render("Then paste the redirect URL (or the code) on stdin."))
		b.WriteString("\n")
		b.WriteString(m.viewStatusLog())
		return b.String()
	}

	if m.reading != nil {
		b.WriteString(m.viewReading())
		b.WriteString("\n")
	}

	switch m.state {
	case stateFetching:
		b.WriteString(m.spinner.View())
		b.WriteString(" Fetching battery status...\n")
	case stateWaiting:
		if m.remaining > 0 {
			b.WriteString(styleDim.Render("Next check in " + formatDuration(m.remaining)))
			b.WriteString("\n")
		}
	case stateStopped:
		b.WriteString(styleDim.Render("Monitoring stopped."))
		b.WriteString("\n")
	case stateInit:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewReading() string {
	var b strings.Builder

	if m.reading.LiveDataAvailable {
		b.WriteString(styleOK.Render("LIVE DATA AVAILABLE"))
	} else {
		b.WriteString(styleWarn.Render("No live data (bike offline)"))
	}
	b.WriteString(styleDim.Render("  @ " + m.readingAt.Format("15:04:05")))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimRight(formatRows(readingRows(m.reading)), "\n"))

	return stylePanel.Render(b.String())
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Monitor failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log, dropping the oldest beyond
// maxStatusLines.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
	if n := len(m.statusLines); n > maxStatusLines {
		m.statusLines = m.statusLines[n-maxStatusLines:]
	}
}

func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
