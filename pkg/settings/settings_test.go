package settings

import (
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/threadline/pkg/attachment"
	"github.com/go-go-golems/threadline/pkg/client"
	"github.com/go-go-golems/threadline/pkg/turn"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	s := NewSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, "http://localhost:49152/ask", s.NewClient().URL())
	assert.Equal(t, turn.DefaultFailureNotice, s.Chat.FailureNotice)
	assert.Equal(t, attachment.DefaultPatterns, s.Attachment.Patterns)
	assert.Equal(t, attachment.DefaultMaxSize, s.Attachment.MaxSize)
}

func TestFromViperOverlaysConfig(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
client:
  base-url: https://chat.example.com
  timeout: 90s
  endpoint-policy:
    allow-http: false
chat:
  failure-notice: The server is down.
  title-template: 'Chat #{{ .Ordinal }}'
attachment:
  patterns: ["*.pdf"]
`)))

	s, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/ask", s.NewClient().URL())
	assert.Equal(t, 90*time.Second, s.Client.Timeout)
	assert.False(t, s.Client.Policy.AllowHTTP)
	assert.True(t, s.Client.Policy.AllowLocalNetworks)
	assert.Equal(t, "The server is down.", s.Chat.FailureNotice)
	assert.Equal(t, []string{"*.pdf"}, s.Attachment.Patterns)
	assert.Equal(t, attachment.DefaultMaxSize, s.Attachment.MaxSize)

	store, err := s.NewStore()
	require.NoError(t, err)
	assert.Equal(t, "Chat #1", store.CreateSession("").Name)
}

func TestFromViperRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{name: "http not allowed", config: "client:\n  endpoint-policy:\n    allow-http: false\n"},
		{name: "bad scheme", config: "client:\n  base-url: ftp://example.com\n"},
		{name: "max size", config: "attachment:\n  max-size: 0\n"},
		{name: "template", config: "chat:\n  title-template: '{{ .Ordinal'\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.SetConfigType("yaml")
			require.NoError(t, v.ReadConfig(strings.NewReader(tt.config)))
			_, err := FromViper(v)
			assert.Error(t, err)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSettings()
	c := s.Clone()
	c.Attachment.Patterns[0] = "*.txt"
	c.Client.BaseURL = "https://elsewhere"
	assert.Equal(t, "*.pdf", s.Attachment.Patterns[0])
	assert.Equal(t, client.DefaultBaseURL, s.Client.BaseURL)
}

func TestYAMLDumpRoundTrips(t *testing.T) {
	s := NewSettings()
	s.Client.Timeout = 2 * time.Minute

	b, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), "base-url: http://localhost:49152")
	assert.Contains(t, string(b), "timeout: 2m0s")

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(string(b))))
	got, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}
