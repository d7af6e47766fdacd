package fixtures

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingleAndList(t *testing.T) {
	single, err := Parse([]byte(`
name: one
chunk_delay: 5ms
chunks: ["a", "b"]
expect:
  preview: ab
`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "one", single[0].Name)
	assert.Equal(t, 5*time.Millisecond, single[0].ChunkDelay)
	assert.Equal(t, "ab", single[0].Body())

	list, err := Parse([]byte(`
- name: first
  chunks: ["x"]
- name: second
  chunks: ["y"]
`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[1].Name)

	_, err = Parse([]byte(`name: empty`))
	require.Error(t, err)

	// error statuses do not need a body
	failing, err := Parse([]byte("name: down\nstatus: 503\n"))
	require.NoError(t, err)
	assert.Equal(t, 503, failing[0].Status)
}

func TestLoadNamesScenariosAfterFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("chunks: [\"b\"]\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("- chunks: [\"1\"]\n- chunks: [\"2\"]\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a scenario"), 0o600))

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a-1", "a-2", "b"}, names)
}

func TestReaderHandsOutOneChunkPerRead(t *testing.T) {
	s := &Scenario{Chunks: []string{"abc", "", "de"}}
	r := s.Reader()

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "de", string(buf[:n]))

	_, err = r.Read(buf)
	assert.Equal(t, io.EOF, err)

	// small buffers split chunks further
	small := make([]byte, 2)
	r = s.Reader()
	n, _ = r.Read(small)
	assert.Equal(t, "ab", string(small[:n]))
	n, _ = r.Read(small)
	assert.Equal(t, "c", string(small[:n]))
}

func TestServerReplaysInOrder(t *testing.T) {
	srv := NewServer(
		&Scenario{Name: "first", Chunks: []string{"data: {\"data\": \"1\"}\n"}},
		&Scenario{Name: "down", Status: http.StatusBadGateway},
	)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	post := func(body string) (*http.Response, string) {
		resp, err := http.Post(ts.URL+"/ask", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(b)
	}

	resp, body := post(`{"query": "hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "data: {\"data\": \"1\"}\n", body)

	resp, _ = post(`{"query": "again", "session_id": "srv-1"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp, _ = post(`{"query": "still down"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	requests := srv.Requests()
	require.Len(t, requests, 3)
	assert.Equal(t, "hi", requests[0].Query)
	assert.Equal(t, "srv-1", requests[1].SessionID)
}
