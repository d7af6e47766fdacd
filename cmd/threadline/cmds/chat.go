package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/threadline/pkg/attachment"
	"github.com/go-go-golems/threadline/pkg/chat"
	"github.com/go-go-golems/threadline/pkg/events"
	"github.com/go-go-golems/threadline/pkg/settings"
	"github.com/go-go-golems/threadline/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

const (
	chatTopic = "ui"
	lineTopic = "line"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in several conversations with the server",
		Long: "Starts the terminal UI when attached to a terminal, and a line based " +
			"prompt otherwise (or with --line).",
		Args: cobra.NoArgs,
		RunE: runChat,
	}
	cmd.Flags().Bool("line", false, "Use the line based prompt even on a terminal")
	cmd.Flags().String("file", "", "Attach a file to the first question")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	lineMode, _ := cmd.Flags().GetBool("line")
	file, _ := cmd.Flags().GetString("file")

	s, err := loadSettings()
	if err != nil {
		return err
	}
	router, err := newRouter()
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	isTerminal := isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stdin.Fd())
	topic := chatTopic
	if lineMode || !isTerminal {
		topic = lineTopic
	}

	c, err := newController(s, router.Sink(topic))
	if err != nil {
		return err
	}
	// start out with an empty conversation, like opening a fresh chat window
	c.CreateSession()
	if file != "" {
		if _, err := c.SelectAttachment(file); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *tea.Program
	if topic == chatTopic {
		p = newProgram(ctx, c, s)
		router.AddHandler("ui", chatTopic, events.NewChatDispatchHandler(ui.ChatForwardFunc(p)))
	} else {
		router.AddHandler("printer", lineTopic, events.PrinterFunc("assistant", os.Stdout))
	}

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		if err := waitForRouter(ctx, router); err != nil {
			return err
		}
		if p != nil {
			return runProgram(p, c)
		}
		return runLineMode(ctx, c, os.Stdin, os.Stdout)
	})
	eg.Go(func() error {
		return router.Run(ctx)
	})

	return eg.Wait()
}

func newProgram(ctx context.Context, c *chat.Controller, s *settings.Settings) *tea.Program {
	isOutputTerminal := isatty.IsTerminal(os.Stdout.Fd())

	options := []tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithMouseCellMotion(), // turn on mouse support so we can track the mouse wheel
	}
	if !isOutputTerminal {
		options = append(options, tea.WithOutput(os.Stderr))
	} else {
		options = append(options, tea.WithAltScreen())
	}

	return tea.NewProgram(
		ui.NewModel(ctx, c, ui.WithMarkdown(s.Chat.Markdown, "dark")),
		options...,
	)
}

func runProgram(p *tea.Program, c *chat.Controller) error {
	unsubscribe := ui.SubscribeStore(c.Store(), p.Send)
	defer unsubscribe()

	_, err := p.Run()
	c.CancelAll()
	c.Wait()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

const lineHelp = `commands:
  /new            start a new conversation
  /list           list conversations
  /switch N       switch to conversation N
  /attach PATH    attach a file to the next question
  /detach         drop the attached file
  /quit           leave
`

// runLineMode is a prompt loop for pipes and dumb terminals. Answers are
// printed by the printer handler on the router.
func runLineMode(ctx context.Context, c *chat.Controller, in io.Reader, out io.Writer) error {
	prompt := &input.UI{
		Writer: out,
		Reader: in,
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		name := "you"
		if active, ok := c.Store().Active(); ok {
			name = active.Name
		}
		line, err := prompt.Ask(fmt.Sprintf("[%s]", name), &input.Options{
			HideOrder: true,
		})
		if err != nil {
			log.Debug().Err(err).Msg("prompt closed")
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := lineCommand(c, line, out)
			if err != nil {
				_, _ = fmt.Fprintf(out, "%s\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		result, err := c.Submit(ctx, line)
		if err == nil {
			continue
		}
		// failed turns are reported by the printer, refusals never reach it
		if result.TurnID != "" {
			log.Debug().Err(err).Msg("turn failed")
			continue
		}
		_, _ = fmt.Fprintf(out, "[error] %s\n", err)
		if errors.Is(err, attachment.ErrEncoding) {
			_, _ = fmt.Fprintln(out, "use /detach to send without the attachment")
		}
	}
}

func lineCommand(c *chat.Controller, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		session := c.CreateSession()
		_, err := fmt.Fprintf(out, "started %s\n", session.Name)
		return false, err

	case "/list":
		view := c.View()
		for i, s := range view.Sessions {
			marker := " "
			if s.ID == view.ActiveID {
				marker = "*"
			}
			if _, err := fmt.Fprintf(out, "%s %d. %s (%d)\n", marker, i+1, s.Name, s.MessageCount); err != nil {
				return false, err
			}
		}
		return false, nil

	case "/switch":
		if len(fields) != 2 {
			return false, errors.New("usage: /switch N")
		}
		n, err := strconv.Atoi(fields[1])
		view := c.View()
		if err != nil || n < 1 || n > len(view.Sessions) {
			return false, errors.Errorf("no conversation %s", fields[1])
		}
		if err := c.SelectSession(view.Sessions[n-1].ID); err != nil {
			return false, err
		}
		for _, m := range c.View().Messages {
			if _, err := fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content); err != nil {
				return false, err
			}
		}
		return false, nil

	case "/attach":
		path := strings.TrimSpace(strings.TrimPrefix(line, "/attach"))
		pending, err := c.SelectAttachment(path)
		if err != nil {
			return false, err
		}
		_, err = fmt.Fprintf(out, "attached %s\n", pending.Name)
		return false, err

	case "/detach":
		c.ClearAttachment()
		return false, nil

	default:
		_, err := fmt.Fprint(out, lineHelp)
		return false, err
	}
}
