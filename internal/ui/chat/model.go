// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatrelay/internal/app"
	"github.com/jeranaias/chatrelay/internal/commands"
	"github.com/jeranaias/chatrelay/internal/ui/styles"
)

// =============================================================================
// LAYOUT
// =============================================================================

const (
	headerHeight = 1
	inputHeight  = 3 // bordered single-line input
	statusHeight = 1
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Options configures a chat Model.
type Options struct {
	// Sender posts stream events into the program. It may be attached
	// later with SetSender.
	Sender Sender
	// ExportDir is where /export writes when no directory is given.
	ExportDir string
	Logger    *slog.Logger
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	ctx    context.Context
	state  *app.State
	logger *slog.Logger

	// Styling
	theme *styles.Theme
	md    *markdownRenderer

	// Dimensions
	width  int
	height int
	ready  bool

	// UI Components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	keyMap   KeyMap

	// Commands
	registry  *commands.Registry
	parser    *commands.Parser
	completer *commands.Completer
	exportDir string

	// Streaming
	sender    *senderRef
	throttle  *rate.Sometimes
	streaming bool

	// Status line
	status    string
	statusErr bool
	output    string

	// Tab completion cycling
	completions []string
	compIndex   int

	// loaded is the archive index of the session on screen, or -1.
	loaded int
}

// New creates a chat model over state. ctx bounds every send.
func New(ctx context.Context, state *app.State, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message or /help..."
	ti.CharLimit = 8192
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exportDir := opts.ExportDir
	if exportDir == "" {
		exportDir = "."
	}

	registry := commands.NewRegistry()
	completer := commands.NewCompleter(registry)
	completer.SessionsFn = state.Archive().List
	completer.MessagesFn = state.Conversation().Len

	m := Model{
		ctx:       ctx,
		state:     state,
		logger:    logger,
		md:        newMarkdownRenderer(),
		viewport:  viewport.New(80, 20),
		input:     ti,
		spinner:   sp,
		keyMap:    DefaultKeyMap(),
		registry:  registry,
		parser:    commands.NewParser(registry),
		completer: completer,
		exportDir: exportDir,
		sender:    &senderRef{},
		throttle:  newRenderThrottle(),
		loaded:    -1,
	}
	m.sender.set(opts.Sender)
	m.applyTheme(state.Theme())
	return m
}

// SetSender attaches the program that stream events are posted to. All
// copies of the model share it.
func (m Model) SetSender(s Sender) {
	m.sender.set(s)
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StreamEventMsg:
		return m.handleStreamEvent(msg)

	case StreamDoneMsg:
		return m.handleStreamDone(msg)

	case CommandDoneMsg:
		return m.handleCommandDone(msg)

	case ArchiveChangedMsg:
		if m.loaded >= m.state.Archive().Len() {
			m.loaded = -1
		}
		m.setStatus("Saved sessions changed on disk.")
		m.refreshViewport()
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		// Picks up the user message and any fragment the throttle skipped.
		m.throttle.Do(func() {
			m.refreshViewport()
		})
		return m, cmd

	default:
		var cmds []tea.Cmd
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}
}

// View renders the chat view.
func (m Model) View() string {
	return m.renderChat()
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)
	m.layout()
	m.ready = true
	m.refreshViewport()
	return m, nil
}

// layout sizes the viewport and input from the window and sidebar state.
func (m *Model) layout() {
	vpHeight := m.height - headerHeight - inputHeight - statusHeight
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = m.contentWidth()
	m.viewport.Height = vpHeight
	m.input.Width = m.width - 6
	m.md.configure(m.theme.GlamourStyle(), m.viewport.Width-4)
}

// contentWidth is the transcript width after the sidebar.
func (m Model) contentWidth() int {
	w := m.width - m.sidebarWidth()
	if w < 20 {
		w = 20
	}
	return w
}

func (m Model) sidebarWidth() int {
	if !m.state.SidebarVisible() {
		return 0
	}
	return m.theme.SidebarWidth()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if !key.Matches(msg, m.keyMap.Complete) {
		m.completions = nil
	}

	switch {
	case key.Matches(msg, m.keyMap.Quit):
		if m.state.Cancel() {
			m.setStatus("Stopping response...")
			return m, nil
		}
		return m, tea.Quit

	case key.Matches(msg, m.keyMap.Cancel):
		if m.state.Cancel() {
			m.setStatus("Stopping response...")
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Submit):
		return m.handleSubmit()

	case key.Matches(msg, m.keyMap.Complete):
		return m.handleComplete()

	case key.Matches(msg, m.keyMap.Save):
		idx, err := m.state.SaveCurrent()
		if err != nil {
			m.setError("Save failed: " + err.Error())
			return m, nil
		}
		m.loaded = idx
		m.setStatus(fmt.Sprintf("Saved as session %d.", idx+1))
		return m, nil

	case key.Matches(msg, m.keyMap.Sidebar):
		if _, err := m.state.ToggleSidebar(); err != nil {
			m.setError("Preference not saved: " + err.Error())
		}
		m.layout()
		m.refreshViewport()
		return m, nil

	case key.Matches(msg, m.keyMap.Theme):
		theme, err := m.state.ToggleTheme()
		if err != nil {
			m.setError("Preference not saved: " + err.Error())
		}
		m.applyTheme(theme)
		m.refreshViewport()
		return m, nil

	case key.Matches(msg, m.keyMap.New):
		m.state.NewConversation()
		m.loaded = -1
		m.output = ""
		m.setStatus("Started a new conversation.")
		m.refreshViewport()
		return m, nil

	case key.Matches(msg, m.keyMap.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keyMap.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleSubmit sends the input as a message or runs it as a command.
func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())

	if commands.IsCommand(text) {
		m.input.Reset()
		m.output = ""
		return m, m.commandCmd(text)
	}

	if m.streaming || m.state.InFlight() {
		m.setStatus("Wait for the response to finish, or press Esc to stop it.")
		return m, nil
	}
	if text == "" && len(m.state.PendingAttachments()) == 0 {
		return m, nil
	}

	m.input.Reset()
	m.output = ""
	m.streaming = true
	m.setStatus("")
	m.throttle = newRenderThrottle()
	return m, tea.Batch(m.spinner.Tick, m.sendCmd(text))
}

// commandCmd runs a slash command off the update loop, since some commands
// touch the network or the disk.
func (m Model) commandCmd(input string) tea.Cmd {
	cctx := commands.NewContext(m.ctx, m.state, m.registry)
	cctx.ExportDir = m.exportDir
	parser := m.parser
	return func() tea.Msg {
		res, err := parser.Execute(cctx, input)
		return CommandDoneMsg{Input: input, Result: res, Err: err}
	}
}

func (m Model) handleCommandDone(msg CommandDoneMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.setError(msg.Err.Error())
		return m, nil
	}
	if msg.Result.Quit {
		return m, tea.Quit
	}

	m.output = msg.Result.Output
	m.setStatus("")

	// Commands may have changed what is on screen.
	if m.theme.Name != m.state.Theme() {
		m.applyTheme(m.state.Theme())
	}
	fields := strings.Fields(msg.Input)
	name := ""
	if cmd := m.registry.Get(strings.ToLower(fields[0])); cmd != nil {
		name = cmd.Name
	}
	switch name {
	case "/load":
		m.loaded = parseLoaded(fields)
	case "/new":
		m.loaded = -1
	case "/save":
		m.loaded = m.state.Archive().Len() - 1
	case "/delete":
		m.loaded = -1
	}
	m.layout()
	m.refreshViewport()
	return m, nil
}

// parseLoaded reads the 0-based session index from "/load N".
func parseLoaded(fields []string) int {
	if len(fields) < 2 {
		return -1
	}
	var n int
	if _, err := fmt.Sscanf(fields[1], "%d", &n); err != nil || n < 1 {
		return -1
	}
	return n - 1
}

// handleComplete cycles through completions of the current input.
func (m Model) handleComplete() (tea.Model, tea.Cmd) {
	if m.completions == nil {
		m.completions = m.completer.CompleteLine(m.input.Value())
		m.compIndex = 0
	}
	if len(m.completions) == 0 {
		m.completions = nil
		return m, nil
	}
	m.input.SetValue(m.completions[m.compIndex%len(m.completions)])
	m.input.CursorEnd()
	m.compIndex++
	if len(m.completions) > 1 {
		m.setStatus(fmt.Sprintf("%d matches, Tab for next", len(m.completions)))
	}
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Model) applyTheme(name string) {
	theme := styles.NewTheme(name)
	if m.theme != nil {
		theme.SetSize(m.theme.Width, m.theme.Height)
	}
	m.theme = theme
	m.spinner.Style = theme.Spinner
	m.input.PromptStyle = theme.InputPrompt
	m.input.PlaceholderStyle = theme.InputPlaceholder
	m.md.configure(theme.GlamourStyle(), m.viewport.Width-4)
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) setError(s string) {
	m.status = s
	m.statusErr = true
	m.logger.Debug("TUI_ERROR", "status", s)
}

// refreshViewport re-renders the transcript, staying pinned to the bottom
// when the user has not scrolled up.
func (m *Model) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderMessages())
	if atBottom || m.streaming {
		m.viewport.GotoBottom()
	}
}

// IsStreaming reports whether a reply is in flight.
func (m Model) IsStreaming() bool {
	return m.streaming
}
