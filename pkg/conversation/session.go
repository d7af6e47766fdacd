package conversation

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Session is one conversation thread. Its ID starts out client generated and
// may be replaced once by the identifier the server assigns on the first
// completed turn.
type Session struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// Summary is the sidebar view of a session.
type Summary struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	MessageCount int    `json:"messageCount" yaml:"messageCount"`
}

func (s Session) Summary() Summary {
	return Summary{
		ID:           s.ID,
		Name:         s.Name,
		MessageCount: len(s.Messages),
	}
}

func NewSessionID() string {
	return uuid.NewString()
}

// TitleWords is the number of whitespace-delimited tokens of the first query
// used as a session title.
const TitleWords = 3

const DefaultTitleTemplate = `Conversation {{ .Ordinal }}`

// TitleFunc computes the display title of a new session. seed is the text of
// the first query (possibly empty), ordinal is the 1-based position the
// session will take in the store.
type TitleFunc func(seed string, ordinal int) string

// NewTemplateTitler returns a TitleFunc that uses the first TitleWords tokens
// of the seed text and falls back to rendering tmpl for empty seeds. The
// template gets {{ .Ordinal }} and the sprig function map.
func NewTemplateTitler(tmpl string) (TitleFunc, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTitleTemplate
	}
	t, err := template.New("session-title").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse session title template")
	}

	return func(seed string, ordinal int) string {
		if title := seedTitle(seed); title != "" {
			return title
		}
		var buf bytes.Buffer
		err := t.Execute(&buf, map[string]interface{}{
			"Ordinal": ordinal,
		})
		if err != nil || strings.TrimSpace(buf.String()) == "" {
			return fallbackTitle(ordinal)
		}
		return strings.TrimSpace(buf.String())
	}, nil
}

// DefaultTitler never fails and is used when no template has been configured.
func DefaultTitler(seed string, ordinal int) string {
	if title := seedTitle(seed); title != "" {
		return title
	}
	return fallbackTitle(ordinal)
}

func seedTitle(seed string) string {
	words := strings.Fields(seed)
	if len(words) > TitleWords {
		words = words[:TitleWords]
	}
	return strings.Join(words, " ")
}

func fallbackTitle(ordinal int) string {
	return fmt.Sprintf("Conversation %d", ordinal)
}
