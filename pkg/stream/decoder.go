package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultPrefix = "data: "

// Decoder reads records from a line oriented event stream. Network chunks may
// split a line anywhere, the decoder only looks at complete lines.
//
// Reading stops for good at end of stream or after the first record with
// turn_complete set, whichever comes first. Nothing after a completed turn is
// read.
type Decoder struct {
	reader *bufio.Reader
	prefix []byte

	stats     Stats
	completed bool
	err       error
}

type DecoderOption func(*Decoder)

// WithPrefix changes the line prefix that marks a record.
func WithPrefix(prefix string) DecoderOption {
	return func(d *Decoder) {
		d.prefix = []byte(prefix)
	}
}

func NewDecoder(r io.Reader, options ...DecoderOption) *Decoder {
	ret := &Decoder{
		reader: bufio.NewReader(r),
		prefix: []byte(DefaultPrefix),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Next returns the next record. It returns io.EOF once the stream is
// exhausted or a completed turn was seen, and ctx.Err() if the context is
// done. Malformed records are skipped.
//
// Next does not interrupt a blocked read on its own. Callers that want
// cancellation to be immediate close the underlying reader when ctx is done.
func (d *Decoder) Next(ctx context.Context) (Record, error) {
	for {
		if d.completed {
			return Record{}, io.EOF
		}
		if d.err != nil {
			return Record{}, d.err
		}
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}

		line, err := d.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				d.err = io.EOF
			} else if ctxErr := ctx.Err(); ctxErr != nil {
				d.err = ctxErr
			} else {
				d.err = errors.Wrap(err, "failed to read stream")
			}
		}

		// the tail of a stream without a final newline is still a line
		if len(line) > 0 {
			record, ok := d.decodeLine(line)
			if ok {
				if record.TurnComplete {
					d.completed = true
				}
				return record, nil
			}
		}
	}
}

func (d *Decoder) decodeLine(line []byte) (Record, bool) {
	d.stats.Lines++
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))

	if !bytes.HasPrefix(line, d.prefix) {
		if len(line) > 0 {
			d.stats.Ignored++
		}
		return Record{}, false
	}

	var record Record
	if err := json.Unmarshal(line[len(d.prefix):], &record); err != nil {
		d.stats.Dropped++
		log.Debug().Err(err).Int("line", d.stats.Lines).Msg("dropping malformed stream record")
		return Record{}, false
	}

	d.stats.Records++
	log.Trace().Object("record", record).Int("line", d.stats.Lines).Msg("decoded stream record")
	return record, true
}

// Run calls fn for every record until the stream ends. A completed turn or a
// clean end of stream returns nil. Errors from fn stop decoding and are
// returned as is.
func (d *Decoder) Run(ctx context.Context, fn func(Record) error) error {
	for {
		record, err := d.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}

// Completed reports whether a record with turn_complete set was decoded.
func (d *Decoder) Completed() bool {
	return d.completed
}

func (d *Decoder) Stats() Stats {
	return d.stats
}
