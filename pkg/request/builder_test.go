package request

import (
	"encoding/json"
	"testing"

	"github.com/go-go-golems/threadline/pkg/attachment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildContinuationRule(t *testing.T) {
	tests := []struct {
		name          string
		messageCount  int
		wantSessionID string
	}{
		{name: "fresh session", messageCount: 0},
		{name: "one message", messageCount: 1},
		{name: "second exchange", messageCount: 2, wantSessionID: "srv-42"},
		{name: "long session", messageCount: 11, wantSessionID: "srv-42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Build("hello", "srv-42", tt.messageCount, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSessionID, p.SessionID)

			b, err := json.Marshal(p)
			require.NoError(t, err)
			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal(b, &raw))
			_, hasSessionID := raw["session_id"]
			assert.Equal(t, tt.wantSessionID != "", hasSessionID)
			_, hasFile := raw["file"]
			assert.False(t, hasFile)
		})
	}
}

func TestBuildEmptyQuery(t *testing.T) {
	for _, q := range []string{"", "   ", "\n\t"} {
		p, err := Build(q, "srv", 4, nil)
		assert.ErrorIs(t, err, ErrEmptyQuery)
		assert.Nil(t, p)
	}
}

func TestBuildTrimsAndCarriesFile(t *testing.T) {
	file := &attachment.EncodedFile{
		Content:  "data:application/pdf;base64,AAAA",
		Filename: "cv.pdf",
		Type:     "application/pdf",
	}
	p, err := Build("  review my cv \n", "", 0, file)
	require.NoError(t, err)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"query": "review my cv",
		"file": {"content": "data:application/pdf;base64,AAAA", "filename": "cv.pdf", "type": "application/pdf"}
	}`, string(b))
}
