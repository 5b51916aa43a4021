// Package tui provides the interactive terminal chat client for
// toolhost.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mcarver/toolhost/internal/protocol"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(cyanColor).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(fgColor)

	systemStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(successColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// App is the chat TUI application model.
type App struct {
	client    *Client
	addr      string
	input     textinput.Model
	viewport  viewport.Model
	width     int
	height    int
	lines     []string
	waiting   bool
	streaming string // tool name while chunks are arriving
	connected bool
	quitting  bool
}

// New creates the chat application for the host at addr.
func New(addr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type a message | /tools | /clear | /quit"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 80

	vp := viewport.New(80, 20)

	return &App{
		client:   NewClient(addr),
		addr:     addr,
		input:    ti,
		viewport: vp,
	}
}

// Run connects to the host and starts the TUI.
func (a *App) Run() error {
	if err := a.client.Connect(); err != nil {
		return err
	}
	defer a.client.Close()

	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Messages delivered into the bubbletea loop.
type (
	hostMsg   protocol.ServerMessage
	hostGone  struct{}
	toolsMsg  struct{ listing string }
	toolsFail struct{ err error }
)

// waitForHost reads the next message from the host.
func (a *App) waitForHost() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-a.client.Incoming()
		if !ok {
			return hostGone{}
		}
		return hostMsg(msg)
	}
}

func (a *App) fetchTools() tea.Cmd {
	return func() tea.Msg {
		tools, err := a.client.ListTools()
		if err != nil {
			return toolsFail{err: err}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d tools available:", len(tools))
		for _, tool := range tools {
			fmt.Fprintf(&b, "\n  %s (%s) - %s", tool.Name, tool.Server, tool.Description)
		}
		return toolsMsg{listing: b.String()}
	}
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.waitForHost())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.quitting = true
			return a, tea.Quit

		case "enter":
			text := strings.TrimSpace(a.input.Value())
			if text == "" {
				return a, nil
			}
			a.input.SetValue("")
			return a.handleInput(text)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - 6
		a.refresh()

	case hostMsg:
		a.handleHostMessage(protocol.ServerMessage(msg))
		return a, a.waitForHost()

	case hostGone:
		a.connected = false
		a.waiting = false
		a.appendLine(errorStyle.Render("Disconnected from host."))
		return a, nil

	case toolsMsg:
		a.appendLine(systemStyle.Render(msg.listing))
		return a, nil

	case toolsFail:
		a.appendLine(errorStyle.Render("Could not list tools: " + msg.err.Error()))
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// handleInput runs a slash command or submits a user message.
func (a *App) handleInput(text string) (tea.Model, tea.Cmd) {
	switch text {
	case "/quit", "/exit":
		a.quitting = true
		return a, tea.Quit

	case "/clear":
		if err := a.client.ClearHistory(); err != nil {
			a.appendLine(errorStyle.Render("Clear failed: " + err.Error()))
		}
		return a, nil

	case "/tools":
		return a, a.fetchTools()
	}

	a.appendLine(userStyle.Render("You: ") + text)
	a.waiting = true
	if err := a.client.SendUserMessage(text); err != nil {
		a.waiting = false
		a.appendLine(errorStyle.Render("Send failed: " + err.Error()))
	}
	return a, nil
}

// handleHostMessage renders one host message into the transcript.
func (a *App) handleHostMessage(msg protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeSystemMessage:
		a.connected = true
		a.appendLine(systemStyle.Render(msg.Content))

	case protocol.TypeLLMResponse:
		a.waiting = false
		a.streaming = ""
		a.appendLine(assistantStyle.Render(msg.Response))
		a.appendLine("")

	case protocol.TypeToolChunk:
		a.streaming = msg.Tool
		a.appendLine(toolStyle.Render("["+msg.Tool+"] ") + msg.Content)

	case protocol.TypeToolDone:
		a.streaming = ""
		a.appendLine(systemStyle.Render(fmt.Sprintf("[%s] done", msg.Tool)))

	case protocol.TypeToolError:
		a.waiting = false
		a.streaming = ""
		a.appendLine(errorStyle.Render(msg.Error))
		a.appendLine("")

	case protocol.TypeHistoryCleared:
		a.lines = nil
		a.refresh()
		a.appendLine(systemStyle.Render("History cleared."))

	case protocol.TypeError:
		a.waiting = false
		a.appendLine(errorStyle.Render(msg.Error))
		a.appendLine("")
	}
}

func (a *App) appendLine(line string) {
	a.lines = append(a.lines, line)
	a.refresh()
}

func (a *App) refresh() {
	a.viewport.SetContent(strings.Join(a.lines, "\n"))
	a.viewport.GotoBottom()
}

// View implements tea.Model
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	title := titleStyle.Render("toolhost chat")

	status := "connecting..."
	statusStyle := lipgloss.NewStyle().Foreground(warningColor)
	switch {
	case a.streaming != "":
		status = "streaming " + a.streaming
		statusStyle = lipgloss.NewStyle().Foreground(successColor)
	case a.waiting:
		status = "thinking..."
		statusStyle = lipgloss.NewStyle().Foreground(warningColor)
	case a.connected:
		status = "connected to " + a.addr
		statusStyle = lipgloss.NewStyle().Foreground(successColor)
	}
	bar := statusBarStyle.Width(max(a.width, 20)).Render(statusStyle.Render("● ") + status)

	help := helpStyle.Render("enter: send | /tools | /clear | /quit | ctrl+c: exit")

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		a.viewport.View(),
		inputBoxStyle.Render(a.input.View()),
		bar,
		help,
	)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
