package ui

import "github.com/charmbracelet/lipgloss"

type Style struct {
	Sidebar        lipgloss.Style
	ActiveSession  lipgloss.Style
	Session        lipgloss.Style
	SessionCount   lipgloss.Style
	UserMessage    lipgloss.Style
	AssistantLabel lipgloss.Style
	Preview        lipgloss.Style
	Pending        lipgloss.Style
	Attachment     lipgloss.Style
	Error          lipgloss.Style
	FocusedInput   lipgloss.Style
	BlurredInput   lipgloss.Style
	Header         lipgloss.Style
}

type BorderColors struct {
	Unselected string
	Selected   string
	Focused    string
}

func DefaultStyles() *Style {
	lightModeColors := BorderColors{
		Unselected: "#CCCCCC",
		Selected:   "#FFB6C1",
		Focused:    "#FFFF99",
	}

	darkModeColors := BorderColors{
		Unselected: "#444444",
		Selected:   "#DD7090",
		Focused:    "#DDDD77",
	}

	unselected := lipgloss.AdaptiveColor{Light: lightModeColors.Unselected, Dark: darkModeColors.Unselected}
	selected := lipgloss.AdaptiveColor{Light: lightModeColors.Selected, Dark: darkModeColors.Selected}
	focused := lipgloss.AdaptiveColor{Light: lightModeColors.Focused, Dark: darkModeColors.Focused}

	return &Style{
		Sidebar: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(unselected).
			PaddingRight(1),
		ActiveSession: lipgloss.NewStyle().Bold(true).Foreground(selected),
		Session:       lipgloss.NewStyle(),
		SessionCount:  lipgloss.NewStyle().Faint(true),
		UserMessage: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(selected).
			PaddingLeft(1),
		AssistantLabel: lipgloss.NewStyle().Bold(true),
		Preview: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(focused).
			PaddingLeft(1),
		Pending:    lipgloss.NewStyle().Faint(true).Italic(true),
		Attachment: lipgloss.NewStyle().Faint(true),
		Error:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		FocusedInput: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(focused),
		BlurredInput: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(unselected),
		Header: lipgloss.NewStyle().Bold(true),
	}
}
