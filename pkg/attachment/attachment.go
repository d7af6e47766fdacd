package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrEncoding             = errors.New("attachment could not be encoded")
	ErrUnsupportedExtension = errors.New("unsupported attachment type")
)

// DefaultPatterns is the allow-list of file name patterns accepted as
// attachments.
var DefaultPatterns = []string{"*.pdf", "*.docx"}

const DefaultMaxSize int64 = 20 * 1024 * 1024

// Pending is a file the user picked, held until the next query consumes it.
type Pending struct {
	Path      string `json:"path" yaml:"path"`
	Name      string `json:"name" yaml:"name"`
	Extension string `json:"extension" yaml:"extension"`
}

// EncodedFile is the wire representation of an attachment.
type EncodedFile struct {
	// Content is a data URL, so it carries its own media type.
	Content  string `json:"content" yaml:"content"`
	Filename string `json:"filename" yaml:"filename"`
	Type     string `json:"type" yaml:"type"`
}

// Select validates path against the allowed file name patterns. Matching is
// done on the lower-cased base name, so "CV.PDF" matches "*.pdf".
func Select(path string, patterns []string) (*Pending, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(path) == "" {
		return nil, errors.Wrap(ErrUnsupportedExtension, "no file given")
	}

	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		matching, err := glob.Match(strings.ToLower(pattern), lower)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid attachment pattern %q", pattern)
		}
		if matching {
			return &Pending{
				Path:      path,
				Name:      name,
				Extension: strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
			}, nil
		}
	}

	return nil, errors.Wrapf(ErrUnsupportedExtension, "%s (allowed: %s)", name, strings.Join(patterns, ", "))
}

// Encoder turns a pending attachment into its wire representation.
type Encoder interface {
	Encode(ctx context.Context, p *Pending) (*EncodedFile, error)
}

type EncoderFunc func(ctx context.Context, p *Pending) (*EncodedFile, error)

func (f EncoderFunc) Encode(ctx context.Context, p *Pending) (*EncodedFile, error) {
	return f(ctx, p)
}

// DataURLEncoder reads the file from disk and encodes it as a base64 data URL.
type DataURLEncoder struct {
	MaxSize int64
}

func NewDataURLEncoder(maxSize int64) *DataURLEncoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &DataURLEncoder{MaxSize: maxSize}
}

func (d *DataURLEncoder) Encode(ctx context.Context, p *Pending) (*EncodedFile, error) {
	if p == nil {
		return nil, errors.Wrap(ErrEncoding, "no attachment")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(p.Path)
	if err != nil {
		return nil, errors.Wrapf(ErrEncoding, "failed to open file: %v", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	fileInfo, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(ErrEncoding, "failed to get file info: %v", err)
	}
	maxSize := d.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if fileInfo.Size() > maxSize {
		return nil, errors.Wrapf(ErrEncoding, "%s is %d bytes, limit is %d", p.Name, fileInfo.Size(), maxSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, errors.Wrapf(ErrEncoding, "failed to read file content: %v", err)
	}
	if int64(len(content)) > maxSize {
		return nil, errors.Wrapf(ErrEncoding, "%s grew beyond the %d bytes limit", p.Name, maxSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := p.Name
	if name == "" {
		name = fileInfo.Name()
	}
	mediaType := MediaTypeFromExtension(filepath.Ext(name))

	log.Debug().
		Str("filename", name).
		Str("media_type", mediaType).
		Int("size", len(content)).
		Msg("encoded attachment")

	return &EncodedFile{
		Content:  DataURL(mediaType, content),
		Filename: name,
		Type:     mediaType,
	}, nil
}

var _ Encoder = (*DataURLEncoder)(nil)

func DataURL(mediaType string, content []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(content))
}

func MediaTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return "application/msword"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
