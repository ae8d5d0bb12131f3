package observer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/g960059/tapmon/internal/logging"
	"github.com/g960059/tapmon/internal/model"
)

const maxLineBytes = 64 * 1024

// Decoder reads newline-delimited JSON events:
//
//	{"id":"e1","type":"click","source":"com.example.app","ts":1700000000000}
//
// "package" is accepted as an alias of "source". A missing ts is filled from
// the wall clock in milliseconds.
type Decoder struct {
	reader *bufio.Reader
	logger *slog.Logger
	now    func() time.Time
	line   int
}

func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Decoder{reader: bufio.NewReaderSize(r, 4096), logger: logger, now: time.Now}
}

// Next returns the next well-formed event. Malformed and oversized lines are
// logged and skipped; io.EOF marks the end of input.
func (d *Decoder) Next() (model.RawEvent, error) {
	for {
		raw, tooLong, err := d.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return model.RawEvent{}, io.EOF
			}
			return model.RawEvent{}, fmt.Errorf("read events: %w", err)
		}
		d.line++
		if tooLong {
			d.logger.Warn("skip oversized event line", "line", d.line, "limit_bytes", maxLineBytes)
			continue
		}
		line := strings.TrimSpace(string(raw))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := d.parse(line)
		if err != nil {
			d.logger.Warn("skip malformed event line", "line", d.line, "err", err)
			continue
		}
		return ev, nil
	}
}

// readLine returns the next line, terminator included. A line longer than
// maxLineBytes is consumed up to its newline and reported with tooLong set.
func (d *Decoder) readLine() (line []byte, tooLong bool, err error) {
	read := false
	for {
		chunk, readErr := d.reader.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
		}
		if !tooLong {
			if len(line)+len(chunk) > maxLineBytes {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case readErr == nil:
			return line, tooLong, nil
		case errors.Is(readErr, bufio.ErrBufferFull):
			continue
		case errors.Is(readErr, io.EOF) && read:
			return line, tooLong, nil
		default:
			return nil, false, readErr
		}
	}
}

func (d *Decoder) parse(line string) (model.RawEvent, error) {
	if !gjson.Valid(line) {
		return model.RawEvent{}, errors.New("invalid json")
	}
	doc := gjson.Parse(line)
	if !doc.IsObject() {
		return model.RawEvent{}, errors.New("event must be a json object")
	}
	typ := doc.Get("type")
	if typ.Type != gjson.String {
		return model.RawEvent{}, errors.New("type must be a string")
	}
	source := doc.Get("source")
	if !source.Exists() {
		source = doc.Get("package")
	}
	now := d.now().UTC()
	ev := model.RawEvent{
		EventID:    doc.Get("id").String(),
		Type:       model.ParseEventType(typ.Str),
		SourceID:   source.String(),
		Timestamp:  now.UnixMilli(),
		ReceivedAt: now,
	}
	if ts := doc.Get("ts"); ts.Exists() {
		if ts.Type != gjson.Number {
			return model.RawEvent{}, errors.New("ts must be a number")
		}
		if ts.Num < 0 {
			return model.RawEvent{}, errors.New("ts must not be negative")
		}
		ev.Timestamp = ts.Int()
	}
	return ev, nil
}

// Pump decodes r into out until EOF or cancellation, then closes out.
func Pump(ctx context.Context, r io.Reader, out chan<- model.RawEvent, logger *slog.Logger) error {
	defer close(out)
	dec := NewDecoder(r, logger)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ev:
		}
	}
}
