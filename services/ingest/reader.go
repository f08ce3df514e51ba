// Package ingest streams a provider's daily title export into the catalog.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"
)

// maxLineSize bounds a single export line. Longer lines are consumed and
// reported as malformed.
const maxLineSize = 1024 * 1024

// ErrLineTooLong marks an export line over maxLineSize.
var ErrLineTooLong = errors.New("export line too long")

// rawPreview is how much of an oversize line is kept for logs.
const rawPreview = 120

// StreamOpener opens the raw export; provider.Client satisfies it.
type StreamOpener interface {
	OpenTitleStream(ctx context.Context) (io.ReadCloser, error)
}

// Candidate is one parsed export line.
type Candidate struct {
	NativeID   string
	Name       string
	Popularity float64
	Adult      bool
	Video      bool
	// Line is the 1-based line number within the export.
	Line int64
}

// ParseError marks a line that could not be decoded. The line still counts as
// consumed.
type ParseError struct {
	Line int64
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > rawPreview {
		raw = raw[:rawPreview] + "..."
	}
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

type exportLine struct {
	ID            json.RawMessage `json:"id"`
	OriginalTitle string          `json:"original_title"`
	OriginalName  string          `json:"original_name"`
	Name          string          `json:"name"`
	Popularity    float64         `json:"popularity"`
	Adult         bool            `json:"adult"`
	Video         bool            `json:"video"`
}

func (l exportLine) nativeID() string {
	id := strings.TrimSpace(string(l.ID))
	if id == "null" {
		return ""
	}
	return strings.Trim(id, `"`)
}

func (l exportLine) displayName() string {
	for _, s := range []string{l.OriginalTitle, l.OriginalName, l.Name} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Reader is a restartable line reader over a title export. Offset counts
// lines consumed since the start of the export, including skipped and
// malformed ones, so it can be stored as a checkpoint directly.
type Reader struct {
	src    StreamOpener
	rc     io.ReadCloser
	br     *bufio.Reader
	line   []byte
	offset int64
	log    *slog.Logger
}

func NewReader(src StreamOpener) *Reader {
	return &Reader{src: src, log: slog.Default().With("component", "ingest.reader")}
}

// Open starts the export and discards the first checkpoint lines.
func (r *Reader) Open(ctx context.Context, checkpoint int64) error {
	if r.rc != nil {
		return errors.New("reader already open")
	}
	if checkpoint < 0 {
		return fmt.Errorf("negative checkpoint %d", checkpoint)
	}
	rc, err := r.src.OpenTitleStream(ctx)
	if err != nil {
		return fmt.Errorf("open title stream: %w", err)
	}
	r.rc = rc
	r.br = bufio.NewReaderSize(rc, 64*1024)
	r.offset = 0

	for r.offset < checkpoint {
		_, _, err := r.readLine()
		if errors.Is(err, io.EOF) {
			r.log.Warn("export shorter than checkpoint", "checkpoint", checkpoint, "lines", r.offset)
			break
		}
		if err != nil {
			return fmt.Errorf("skip to checkpoint %d: %w", checkpoint, err)
		}
		r.offset++
	}
	if checkpoint > 0 {
		r.log.Info("resumed export", "offset", r.offset)
	}
	return nil
}

// readLine returns the next line without its terminator, or io.EOF when
// nothing is left. A line over maxLineSize is drained to its end and
// returned truncated with tooLong set, so it still counts as one line.
func (r *Reader) readLine() (line []byte, tooLong bool, err error) {
	r.line = r.line[:0]
	read := 0
	for {
		chunk, err := r.br.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			if len(r.line)+len(chunk) > maxLineSize+1 {
				tooLong = true
				r.line = append(r.line, chunk...)
				r.line = r.line[:min(len(r.line), rawPreview)]
			} else {
				r.line = append(r.line, chunk...)
			}
		}
		switch {
		case err == nil:
			return bytes.TrimRight(r.line, "\r\n"), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if read == 0 {
				return nil, false, io.EOF
			}
			return bytes.TrimRight(r.line, "\r\n"), tooLong, nil
		default:
			return nil, false, err
		}
	}
}

// Next returns the next candidate, io.EOF at the end of the export, or a
// *ParseError for an undecodable or oversize line. Blank lines are consumed
// silently.
func (r *Reader) Next() (*Candidate, error) {
	if r.br == nil {
		return nil, errors.New("reader not open")
	}
	for {
		data, tooLong, err := r.readLine()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read export at line %d: %w", r.offset+1, err)
		}
		r.offset++
		if tooLong {
			r.log.Warn("oversize export line", "line", r.offset, "limit", maxLineSize)
			return nil, &ParseError{Line: r.offset, Raw: string(data), Err: ErrLineTooLong}
		}
		raw := strings.TrimSpace(string(data))
		if raw == "" {
			continue
		}

		var line exportLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			perr := &ParseError{Line: r.offset, Raw: raw, Err: err}
			r.log.Warn("malformed export line", "line", r.offset, "error", err)
			return nil, perr
		}
		return &Candidate{
			NativeID:   line.nativeID(),
			Name:       line.displayName(),
			Popularity: line.Popularity,
			Adult:      line.Adult,
			Video:      line.Video,
			Line:       r.offset,
		}, nil
	}
}

// Offset is the number of lines consumed so far.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close releases the underlying stream.
func (r *Reader) Close() error {
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	r.br = nil
	return err
}
