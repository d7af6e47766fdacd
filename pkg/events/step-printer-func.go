package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// PrinterFunc returns a handler that writes the answer to w as it streams in.
// If name is set it is printed before the first fragment.
func PrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true
	lastCompletion := ""

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventPartialCompletion:
			if isFirst && name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: \n", name); err != nil {
					return err
				}
			}
			lastCompletion = p_.Completion
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}

		case *EventFinal:
			if !strings.HasSuffix(lastCompletion, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}

		case *EventError:
			if lastCompletion != "" {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}
			text := p_.Notice
			if text == "" {
				text = p_.ErrorString
			}
			if _, err := fmt.Fprintf(w, "[error] %s\n", text); err != nil {
				return err
			}

		case *EventInterrupt:
			if _, err := fmt.Fprintf(w, "\n[interrupted]\n"); err != nil {
				return err
			}

		case *EventSessionRekeyed:
			if lastCompletion != "" && !strings.HasSuffix(lastCompletion, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
				lastCompletion += "\n"
			}
			v_, err := yaml.Marshal(map[string]string{
				"session": p_.NewID,
				"was":     p_.OldID,
			})
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s", v_); err != nil {
				return err
			}

		case *EventStart:
		}

		return nil
	}
}
