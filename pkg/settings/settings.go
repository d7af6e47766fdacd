package settings

import (
	"time"

	"github.com/go-go-golems/threadline/pkg/attachment"
	"github.com/go-go-golems/threadline/pkg/chat"
	"github.com/go-go-golems/threadline/pkg/client"
	"github.com/go-go-golems/threadline/pkg/conversation"
	"github.com/go-go-golems/threadline/pkg/turn"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type ClientSettings struct {
	BaseURL   string `yaml:"base-url" mapstructure:"base-url"`
	AskPath   string `yaml:"ask-path" mapstructure:"ask-path"`
	UserAgent string `yaml:"user-agent,omitempty" mapstructure:"user-agent"`
	// Timeout bounds a whole turn, stream included. Zero means no limit.
	Timeout time.Duration         `yaml:"timeout,omitempty" mapstructure:"timeout"`
	Policy  client.EndpointPolicy `yaml:"endpoint-policy" mapstructure:"endpoint-policy"`
}

type ChatSettings struct {
	FailureNotice     string `yaml:"failure-notice" mapstructure:"failure-notice"`
	TitleTemplate     string `yaml:"title-template" mapstructure:"title-template"`
	StrictAttachments bool   `yaml:"strict-attachments" mapstructure:"strict-attachments"`
	Markdown          bool   `yaml:"markdown" mapstructure:"markdown"`
}

type AttachmentSettings struct {
	Patterns []string `yaml:"patterns" mapstructure:"patterns"`
	MaxSize  int64    `yaml:"max-size" mapstructure:"max-size"`
}

type Settings struct {
	Client     *ClientSettings     `yaml:"client" mapstructure:"client"`
	Chat       *ChatSettings       `yaml:"chat" mapstructure:"chat"`
	Attachment *AttachmentSettings `yaml:"attachment" mapstructure:"attachment"`
}

func NewSettings() *Settings {
	return &Settings{
		Client: &ClientSettings{
			BaseURL: client.DefaultBaseURL,
			AskPath: client.DefaultAskPath,
			Policy:  client.DefaultEndpointPolicy,
		},
		Chat: &ChatSettings{
			FailureNotice: turn.DefaultFailureNotice,
			TitleTemplate: conversation.DefaultTitleTemplate,
			Markdown:      true,
		},
		Attachment: &AttachmentSettings{
			Patterns: append([]string{}, attachment.DefaultPatterns...),
			MaxSize:  attachment.DefaultMaxSize,
		},
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// FromViper overlays the values held by v on top of the defaults.
func FromViper(v *viper.Viper) (*Settings, error) {
	ret := NewSettings()
	if v == nil {
		return ret, nil
	}
	// a configured list replaces the defaults instead of being merged into them
	if v.IsSet("attachment.patterns") {
		ret.Attachment.Patterns = nil
	}
	if err := v.Unmarshal(ret); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Settings) Validate() error {
	if s.Client == nil || s.Chat == nil || s.Attachment == nil {
		return errors.New("settings sections missing")
	}
	c := client.NewClient(s.ClientOptions()...)
	if err := client.ValidateEndpoint(c.URL(), s.Client.Policy); err != nil {
		return errors.Wrapf(err, "invalid ask endpoint %s", c.URL())
	}
	if s.Client.Timeout < 0 {
		return errors.Errorf("client timeout must not be negative, got %s", s.Client.Timeout)
	}
	if s.Attachment.MaxSize <= 0 {
		return errors.Errorf("attachment max-size must be positive, got %d", s.Attachment.MaxSize)
	}
	if _, err := conversation.NewTemplateTitler(s.Chat.TitleTemplate); err != nil {
		return err
	}
	return nil
}

func (s *Settings) ClientOptions() []client.ClientOption {
	ret := []client.ClientOption{
		client.WithBaseURL(s.Client.BaseURL),
		client.WithAskPath(s.Client.AskPath),
		client.WithEndpointPolicy(s.Client.Policy),
	}
	if s.Client.UserAgent != "" {
		ret = append(ret, client.WithUserAgent(s.Client.UserAgent))
	}
	if s.Client.Timeout > 0 {
		ret = append(ret, client.WithTimeout(s.Client.Timeout))
	}
	return ret
}

func (s *Settings) NewClient() *client.Client {
	return client.NewClient(s.ClientOptions()...)
}

func (s *Settings) NewStore() (*conversation.Store, error) {
	titler, err := conversation.NewTemplateTitler(s.Chat.TitleTemplate)
	if err != nil {
		return nil, err
	}
	return conversation.NewStore(conversation.WithTitler(titler)), nil
}

func (s *Settings) ControllerOptions() []chat.ControllerOption {
	return []chat.ControllerOption{
		chat.WithEncoder(attachment.NewDataURLEncoder(s.Attachment.MaxSize)),
		chat.WithAttachmentPatterns(s.Attachment.Patterns...),
		chat.WithFailureNotice(s.Chat.FailureNotice),
		chat.WithStrictAttachments(s.Chat.StrictAttachments),
	}
}
