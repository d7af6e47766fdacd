package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SubmitMessage   key.Binding
	CancelTurn      key.Binding
	NewSession      key.Binding
	NextSession     key.Binding
	PrevSession     key.Binding
	AttachFile      key.Binding
	ClearAttachment key.Binding
	ConfirmPath     key.Binding
	DismissPath     key.Binding
	DismissError    key.Binding
	ScrollUp        key.Binding
	ScrollDown      key.Binding

	Help key.Binding
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	SubmitMessage: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "send"),
	),
	CancelTurn: key.NewBinding(
		key.WithKeys("ctrl+x"),
		key.WithHelp("ctrl+x", "cancel answer"),
	),
	NewSession: key.NewBinding(
		key.WithKeys("ctrl+n"),
		key.WithHelp("ctrl+n", "new chat"),
	),
	NextSession: key.NewBinding(
		key.WithKeys("ctrl+down"),
		key.WithHelp("ctrl+↓", "next chat"),
	),
	PrevSession: key.NewBinding(
		key.WithKeys("ctrl+up"),
		key.WithHelp("ctrl+↑", "previous chat"),
	),
	AttachFile: key.NewBinding(
		key.WithKeys("ctrl+o"),
		key.WithHelp("ctrl+o", "attach file"),
	),
	ClearAttachment: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "remove file"),
	),
	ConfirmPath: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "attach"),
	),
	DismissPath: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "back"),
	),
	DismissError: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "dismiss"),
	),
	ScrollUp: key.NewBinding(
		key.WithKeys("shift+pgup", "pgup"),
		key.WithHelp("pgup", "scroll up"),
	),
	ScrollDown: key.NewBinding(
		key.WithKeys("shift+pgdown", "pgdown"),
		key.WithHelp("pgdown", "scroll down"),
	),
	Help: key.NewBinding(
		key.WithKeys("f1"),
		key.WithHelp("f1", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "quit"),
	),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.SubmitMessage, k.NewSession, k.AttachFile, k.CancelTurn, k.Help, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SubmitMessage, k.CancelTurn, k.DismissError},
		{k.NewSession, k.NextSession, k.PrevSession},
		{k.AttachFile, k.ClearAttachment, k.ConfirmPath, k.DismissPath},
		{k.ScrollUp, k.ScrollDown, k.Help, k.Quit},
	}
}
