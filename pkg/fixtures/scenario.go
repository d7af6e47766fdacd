package fixtures

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Scenario describes one canned ask response: the raw chunks as they arrive
// on the wire and what a client should make of them.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Status is the HTTP status the replay server answers with. Zero means 200.
	Status     int           `yaml:"status,omitempty"`
	ChunkDelay time.Duration `yaml:"chunk_delay,omitempty"`
	Chunks     []string      `yaml:"chunks"`
	Expect     Expectation   `yaml:"expect,omitempty"`
}

type Expectation struct {
	Preview   string `yaml:"preview,omitempty"`
	SessionID string `yaml:"session_id,omitempty"`
	Completed bool   `yaml:"completed,omitempty"`
	Records   int    `yaml:"records,omitempty"`
	Dropped   int    `yaml:"dropped,omitempty"`
	Ignored   int    `yaml:"ignored,omitempty"`
}

// Body returns all chunks concatenated.
func (s *Scenario) Body() string {
	return strings.Join(s.Chunks, "")
}

// Reader returns a reader that hands out at most one chunk per Read call, so
// record boundaries fall wherever the chunks split them.
func (s *Scenario) Reader() io.Reader {
	chunks := make([][]byte, 0, len(s.Chunks))
	for _, c := range s.Chunks {
		chunks = append(chunks, []byte(c))
	}
	return &chunkReader{chunks: chunks}
}

type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for len(c.chunks) > 0 && len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	return n, nil
}

// Parse reads a single scenario, or a list of scenarios, from YAML.
func Parse(b []byte) ([]*Scenario, error) {
	var list []*Scenario
	if err := yaml.Unmarshal(b, &list); err == nil {
		return validate(list)
	}

	var single Scenario
	if err := yaml.Unmarshal(b, &single); err != nil {
		return nil, errors.Wrap(err, "could not parse scenario")
	}
	return validate([]*Scenario{&single})
}

func validate(scenarios []*Scenario) ([]*Scenario, error) {
	if len(scenarios) == 0 {
		return nil, errors.New("no scenario found")
	}
	for i, s := range scenarios {
		if s == nil {
			return nil, errors.Errorf("scenario %d is empty", i)
		}
		if len(s.Chunks) == 0 && s.Status < 300 {
			return nil, errors.Errorf("scenario %q has no chunks", s.Name)
		}
	}
	return scenarios, nil
}

// Load reads all scenarios from a file. Unnamed scenarios are named after the
// file.
func Load(path string) ([]*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read scenario file %s", path)
	}
	scenarios, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "in %s", path)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for i, s := range scenarios {
		if s.Name == "" {
			s.Name = base
			if len(scenarios) > 1 {
				s.Name = fmt.Sprintf("%s-%d", base, i+1)
			}
		}
	}
	return scenarios, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read scenario directory %s", dir)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	ret := []*Scenario{}
	for _, name := range names {
		scenarios, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		ret = append(ret, scenarios...)
	}
	return ret, nil
}
