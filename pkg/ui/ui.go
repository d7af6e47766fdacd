package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/threadline/pkg/chat"
	"github.com/go-go-golems/threadline/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateUserInput  State = "user_input"
	StateAttachPath State = "attach_path"
	StateError      State = "error"
)

const (
	sidebarWidth   = 26
	pendingMessage = "thinking..."
)

type Model struct {
	ctx        context.Context
	controller *chat.Controller
	view       chat.View

	viewport  viewport.Model
	textArea  textarea.Model
	pathInput textinput.Model
	help      help.Model
	spinner   spinner.Model

	keyMap   KeyMap
	style    *Style
	markdown *markdownRenderer

	state     State
	err       error
	attachErr string

	width  int
	height int
}

type ModelOption func(*Model)

func WithMarkdown(enabled bool, style string) ModelOption {
	return func(m *Model) {
		m.markdown = newMarkdownRenderer(enabled, style)
	}
}

func WithKeyMap(keyMap KeyMap) ModelOption {
	return func(m *Model) {
		m.keyMap = keyMap
	}
}

func WithStyle(style *Style) ModelOption {
	return func(m *Model) {
		m.style = style
	}
}

// NewModel returns the chat model. ctx bounds every turn submitted from it.
func NewModel(ctx context.Context, controller *chat.Controller, options ...ModelOption) Model {
	ret := Model{
		ctx:        ctx,
		controller: controller,
		viewport:   viewport.New(0, 0),
		help:       help.New(),
		keyMap:     DefaultKeyMap,
		style:      DefaultStyles(),
		markdown:   newMarkdownRenderer(false, ""),
		state:      StateUserInput,
	}
	for _, option := range options {
		option(&ret)
	}

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Ask anything..."
	ret.textArea.ShowLineNumbers = false
	ret.textArea.SetHeight(3)
	ret.textArea.Focus()

	ret.pathInput = textinput.New()
	ret.pathInput.Placeholder = "path/to/file.pdf"
	ret.pathInput.Prompt = "attach: "

	ret.spinner = spinner.New()
	ret.spinner.Spinner = spinner.Dot
	ret.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))

	ret.refresh()
	ret.updateKeyBindings()

	return ret
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.updateKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recomputeSize()

	case StateChangedMsg, TurnStartedMsg, PreviewMsg, SessionRekeyedMsg, TurnEndedMsg:
		m.refresh()

	case submittedMsg:
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		m.refresh()
		cmds = append(cmds, waitCmd(msg.handle))

	case TurnFinishedMsg:
		m.refresh()
		// transport failures and truncation already left a notice in the thread
		if errors.Is(msg.Err, conversation.ErrRekeyConflict) || errors.Is(msg.Err, conversation.ErrSessionNotFound) {
			m.setError(msg.Err)
		}

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if m.view.InFlight && m.view.StreamingPreview == "" {
			m.refresh()
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch {
	case key.Matches(msg, m.keyMap.Quit):
		m.controller.CancelAll()
		return m, tea.Quit

	case key.Matches(msg, m.keyMap.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.recomputeSize()

	case m.state == StateAttachPath && key.Matches(msg, m.keyMap.ConfirmPath):
		path := strings.TrimSpace(m.pathInput.Value())
		if _, err := m.controller.SelectAttachment(path); err != nil {
			m.attachErr = err.Error()
			break
		}
		m.attachErr = ""
		m.pathInput.Reset()
		m.pathInput.Blur()
		m.state = StateUserInput
		cmds = append(cmds, m.textArea.Focus())
		m.refresh()

	case m.state == StateAttachPath && key.Matches(msg, m.keyMap.DismissPath):
		m.attachErr = ""
		m.pathInput.Reset()
		m.pathInput.Blur()
		m.state = StateUserInput
		cmds = append(cmds, m.textArea.Focus())

	case m.state == StateAttachPath:
		m.pathInput, cmd = m.pathInput.Update(msg)
		cmds = append(cmds, cmd)

	case key.Matches(msg, m.keyMap.DismissError):
		m.err = nil
		m.state = StateUserInput

	case key.Matches(msg, m.keyMap.SubmitMessage):
		query := m.textArea.Value()
		if strings.TrimSpace(query) == "" {
			break
		}
		m.textArea.Reset()
		m.err = nil
		m.state = StateUserInput
		cmds = append(cmds, submitCmd(m.ctx, m.controller, query))

	case key.Matches(msg, m.keyMap.CancelTurn):
		if !m.controller.CancelActive(m.view.ActiveID) {
			log.Debug().Str("session_id", m.view.ActiveID).Msg("no turn to cancel")
		}

	case key.Matches(msg, m.keyMap.NewSession):
		m.controller.CreateSession()
		m.refresh()

	case key.Matches(msg, m.keyMap.NextSession):
		m.selectRelative(1)

	case key.Matches(msg, m.keyMap.PrevSession):
		m.selectRelative(-1)

	case key.Matches(msg, m.keyMap.AttachFile):
		m.state = StateAttachPath
		m.textArea.Blur()
		cmds = append(cmds, m.pathInput.Focus())

	case key.Matches(msg, m.keyMap.ClearAttachment):
		m.controller.ClearAttachment()
		m.refresh()

	case key.Matches(msg, m.keyMap.ScrollUp), key.Matches(msg, m.keyMap.ScrollDown):
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)

	default:
		m.textArea, cmd = m.textArea.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.updateKeyBindings()
	return m, tea.Batch(cmds...)
}

func (m *Model) selectRelative(delta int) {
	sessions := m.view.Sessions
	if len(sessions) == 0 {
		return
	}
	idx := 0
	for i, s := range sessions {
		if s.ID == m.view.ActiveID {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(sessions)) % len(sessions)
	if err := m.controller.SelectSession(sessions[idx].ID); err != nil {
		m.setError(err)
		return
	}
	m.refresh()
}

func (m *Model) setError(err error) {
	m.err = err
	m.state = StateError
	m.updateKeyBindings()
}

func (m *Model) updateKeyBindings() {
	input := m.state == StateUserInput || m.state == StateError
	m.keyMap.SubmitMessage.SetEnabled(input)
	m.keyMap.CancelTurn.SetEnabled(m.view.InFlight)
	m.keyMap.ClearAttachment.SetEnabled(m.view.Attachment != nil)
	m.keyMap.ConfirmPath.SetEnabled(m.state == StateAttachPath)
	m.keyMap.DismissPath.SetEnabled(m.state == StateAttachPath)
	m.keyMap.DismissError.SetEnabled(m.state == StateError)
	m.keyMap.AttachFile.SetEnabled(m.state != StateAttachPath)
}

// refresh pulls the current view from the controller and re-renders the
// thread.
func (m *Model) refresh() {
	m.view = m.controller.View()
	m.viewport.SetContent(m.messageView())
	m.viewport.GotoBottom()
	m.updateKeyBindings()
}

func (m *Model) mainWidth() int {
	w := m.width - sidebarWidth - 2
	if w < 20 {
		w = 20
	}
	return w
}

func (m *Model) recomputeSize() {
	width := m.mainWidth()
	m.textArea.SetWidth(width - 2)
	m.pathInput.Width = width - len(m.pathInput.Prompt) - 2

	headerHeight := lipgloss.Height(m.headerView())
	footerHeight := lipgloss.Height(m.footerView())
	height := m.height - headerHeight - footerHeight
	if height < 0 {
		height = 0
	}
	m.viewport.Width = width
	m.viewport.Height = height
	m.viewport.SetContent(m.messageView())
	m.viewport.GotoBottom()
}

func (m Model) headerView() string {
	title := "threadline"
	for _, s := range m.view.Sessions {
		if s.ID == m.view.ActiveID {
			title = s.Name
		}
	}
	return m.style.Header.Render(title)
}

func (m Model) sidebarView() string {
	lines := make([]string, 0, len(m.view.Sessions))
	for _, s := range m.view.Sessions {
		name := s.Name
		if r := []rune(name); len(r) > sidebarWidth-8 {
			name = string(r[:sidebarWidth-9]) + "…"
		}
		count := m.style.SessionCount.Render(fmt.Sprintf("(%d)", s.MessageCount))
		line := name + " " + count
		if s.ID == m.view.ActiveID {
			line = m.style.ActiveSession.Render("> "+name) + " " + count
		} else {
			line = m.style.Session.Render("  " + line)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, m.style.SessionCount.Render("no chats yet"))
	}
	height := m.height
	if height < len(lines) {
		height = len(lines)
	}
	return m.style.Sidebar.Width(sidebarWidth).Height(height).Render(strings.Join(lines, "\n"))
}

func (m Model) messageView() string {
	width := m.mainWidth() - 2
	parts := []string{}
	for _, message := range m.view.Messages {
		switch message.Role {
		case conversation.RoleUser:
			parts = append(parts, m.style.UserMessage.Render(wrapWords(message.Content, width-2)))
		default:
			parts = append(parts,
				m.style.AssistantLabel.Render("assistant")+"\n"+m.markdown.Render(message.Content, width))
		}
	}

	if m.view.InFlight {
		if m.view.StreamingPreview == "" {
			parts = append(parts, m.spinner.View()+" "+m.style.Pending.Render(pendingMessage))
		} else {
			parts = append(parts, m.style.Preview.Render(wrapWords(m.view.StreamingPreview, width-2)))
		}
	}

	return strings.Join(parts, "\n\n")
}

func (m Model) footerView() string {
	lines := []string{}
	if m.view.Attachment != nil {
		lines = append(lines, m.style.Attachment.Render("attached: "+m.view.Attachment.Name))
	}
	if m.err != nil {
		lines = append(lines, m.style.Error.Render(wrapWords(m.err.Error(), m.mainWidth())))
	}

	if m.state == StateAttachPath {
		lines = append(lines, m.style.FocusedInput.Render(m.pathInput.View()))
		if m.attachErr != "" {
			lines = append(lines, m.style.Error.Render(m.attachErr))
		}
	} else {
		lines = append(lines, m.style.FocusedInput.Render(m.textArea.View()))
	}
	lines = append(lines, m.help.View(m.keyMap))
	return strings.Join(lines, "\n")
}

func (m Model) View() string {
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), main)
}

var _ tea.Model = Model{}
