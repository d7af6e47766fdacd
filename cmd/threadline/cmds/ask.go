package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/go-go-golems/threadline/pkg/events"
	"github.com/go-go-golems/threadline/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

func NewAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [query...]",
		Short: "Ask a single question and stream the answer to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	cmd.Flags().String("file", "", "Attach a file (pdf, doc, docx) to the question")
	cmd.Flags().Bool("raw-events", false, "Print the raw events instead of the answer")
	cmd.Flags().Bool("chat", false, "Continue in the chat UI after the answer")
	cmd.Flags().Bool("interactive", false, "Ask whether to continue in chat even when stdout is not a terminal")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	file, _ := cmd.Flags().GetString("file")
	rawEvents, _ := cmd.Flags().GetBool("raw-events")
	continueInChat, _ := cmd.Flags().GetBool("chat")
	interactive, _ := cmd.Flags().GetBool("interactive")

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

	if rawEvents {
		router.AddHandler("raw-events", events.DefaultTopic, router.DumpRawEvents)
	} else {
		router.AddHandler("printer", events.DefaultTopic, events.PrinterFunc("", os.Stdout))
	}

	// events go to the printer until the user moves on to the chat UI
	var sink atomic.Pointer[events.WatermillSink]
	sink.Store(router.Sink(events.DefaultTopic))
	c, err := newController(s, events.SinkFunc(func(e events.Event) error {
		return sink.Load().PublishEvent(e)
	}))
	if err != nil {
		return err
	}
	if file != "" {
		if _, err := c.SelectAttachment(file); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	query := strings.Join(args, " ")

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		if err := waitForRouter(ctx, router); err != nil {
			return err
		}

		if _, err := c.Submit(ctx, query); err != nil {
			return err
		}

		isOutputTerminal := isatty.IsTerminal(os.Stdout.Fd())
		askChat := (isOutputTerminal || interactive) && !continueInChat && !rawEvents
		if askChat {
			answer, err := askForChatContinuation(continueInChat)
			if err != nil {
				return err
			}
			continueInChat = answer
		}
		if !continueInChat {
			return nil
		}

		p := newProgram(ctx, c, s)
		router.AddHandler("ui", chatTopic, events.NewChatDispatchHandler(ui.ChatForwardFunc(p)))
		if err := router.RunHandlers(ctx); err != nil {
			return errors.Wrap(err, "could not start ui handler")
		}
		sink.Store(router.Sink(chatTopic))

		if err := runProgram(p, c); err != nil {
			return err
		}

		// the first question and answer were already printed
		if session, ok := c.Store().Active(); ok {
			for idx, msg := range session.Messages {
				if idx <= 1 {
					continue
				}
				fmt.Printf("\n[%s]: %s\n", msg.Role, msg.Content)
			}
		}
		return nil
	})
	eg.Go(func() error {
		return router.Run(ctx)
	})

	return eg.Wait()
}

func askForChatContinuation(continueInChat bool) (bool, error) {
	tty_, err := ui.OpenTTY()
	if err != nil {
		return false, err
	}
	defer func() {
		if err := tty_.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close tty")
		}
	}()

	prompt := &input.UI{
		Writer: tty_,
		Reader: tty_,
	}

	answer, err := prompt.Ask("\nDo you want to continue in chat? [y/n]", &input.Options{
		Default:  "y",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return errors.New("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to get user input")
	}

	switch answer {
	case "y", "Y":
		continueInChat = true
	case "n", "N":
		return false, nil
	}
	return continueInChat, nil
}
