package binder

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const maxEventBytes = 1 << 20

// eventReader splits a text/event-stream body into data payloads. Multiple
// data lines of one event are joined with newlines; comments, event names
// and ids are ignored.
type eventReader struct {
	reader *bufio.Reader
	data   string
	err    error
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

func (e *eventReader) Next() bool {
	e.data = ""
	var lines []string
	size := 0

	for {
		line, err := e.reader.ReadString('\n')
		if err != nil && line == "" {
			if !errors.Is(err, io.EOF) {
				e.err = err
				return false
			}
			if len(lines) == 0 {
				return false
			}
			e.data = strings.Join(lines, "\n")
			return true
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			e.data = strings.Join(lines, "\n")
			return true
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		size += len(value)
		if size > maxEventBytes {
			e.err = errors.New("event exceeds size limit")
			return false
		}
		lines = append(lines, value)
	}
}

func (e *eventReader) Data() string { return e.data }

func (e *eventReader) Err() error { return e.err }
